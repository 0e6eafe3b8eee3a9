package realtime

import "github.com/iliyamo/lane-checkin/internal/model"

// Projection is a client's belief about one lane. It only changes through
// Apply and ApplySnapshot, both of which return a new value and leave the
// receiver untouched.
type Projection struct {
	LaneID      string
	Snapshot    Snapshot
	Synced      bool
	Forced      bool
	Highlighted *model.RentalType
	LastFailure *AssignmentPayload
	Checkouts   []CheckoutPayload
	Last        EventType
}

// NewProjection returns the empty belief for laneID.
func NewProjection(laneID string) Projection {
	return Projection{LaneID: laneID}
}

// ApplySnapshot adopts s unless the projection already holds a newer state.
func (p Projection) ApplySnapshot(s Snapshot) Projection {
	if s.LaneID != "" && s.LaneID != p.LaneID {
		return p
	}
	if p.Synced && !s.NewerThan(p.Snapshot) {
		return p
	}
	if sessionID(s) != sessionID(p.Snapshot) {
		p.Forced = false
		p.Highlighted = nil
		p.LastFailure = nil
	}
	p.Snapshot = s
	p.Synced = true
	return p
}

// Apply folds one pushed event into the projection. Events for other
// lanes and undecodable payloads leave it unchanged.
func (p Projection) Apply(ev Event) Projection {
	if ev.LaneID != AllLanes && ev.LaneID != p.LaneID {
		return p
	}
	p.Checkouts = append([]CheckoutPayload(nil), p.Checkouts...)
	switch ev.Type {
	case SessionUpdated:
		var s Snapshot
		if err := ev.Decode(&s); err != nil {
			return p
		}
		p = p.ApplySnapshot(s)
	case SelectionProposed:
		p.Forced = false
	case SelectionForced:
		p.Forced = true
	case OptionHighlighted:
		var h HighlightPayload
		if err := ev.Decode(&h); err != nil {
			return p
		}
		rt := h.RentalType
		p.Highlighted = &rt
	case AssignmentFailed:
		var a AssignmentPayload
		if err := ev.Decode(&a); err != nil {
			return p
		}
		p.LastFailure = &a
	case AssignmentCreated:
		p.LastFailure = nil
	case CheckoutRequested:
		var c CheckoutPayload
		if err := ev.Decode(&c); err != nil {
			return p
		}
		if !hasCheckout(p.Checkouts, c.VisitID) {
			p.Checkouts = append(p.Checkouts, c)
		}
	case CheckoutCompleted:
		var c CheckoutPayload
		if err := ev.Decode(&c); err != nil {
			return p
		}
		out := p.Checkouts[:0]
		for _, x := range p.Checkouts {
			if x.VisitID != c.VisitID {
				out = append(out, x)
			}
		}
		p.Checkouts = out
	}
	p.Last = ev.Type
	return p
}

func hasCheckout(list []CheckoutPayload, visitID string) bool {
	for _, c := range list {
		if c.VisitID == visitID {
			return true
		}
	}
	return false
}

func sessionID(s Snapshot) string {
	if s.Session == nil {
		return ""
	}
	return s.Session.ID
}
