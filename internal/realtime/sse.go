package realtime

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE writes ev as one server-sent event frame.
func WriteSSE(w io.Writer, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
	return err
}

// WriteHeartbeat writes an SSE comment line that keeps idle proxies from
// closing the stream.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": ping\n\n")
	return err
}
