package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/log"
	"github.com/iliyamo/lane-checkin/internal/service"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorBody is the JSON shape of every failed lane operation.
type errorBody struct {
	Error    string            `json:"error"`
	Guard    string            `json:"guard,omitempty"`
	Resource string            `json:"resource,omitempty"`
	RaceLost bool              `json:"race_lost,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func statusFor(k service.Kind) int {
	switch k {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case service.KindConflict:
		return http.StatusConflict
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error response. Internal errors are logged and
// their detail withheld from the client.
func fail(c echo.Context, err error) error {
	se, ok := service.AsError(err)
	if !ok {
		se = &service.Error{Kind: service.KindInternal, Msg: "internal error", Err: err}
	}
	status := statusFor(se.Kind)
	body := errorBody{Error: se.Msg, Guard: se.Guard, Resource: se.Resource, RaceLost: se.RaceLost}
	if status == http.StatusInternalServerError {
		logger := log.WithComponent("http")
		logger.Error().Err(err).Str("op", se.Op).Str("route", c.Path()).Msg("request failed")
		body = errorBody{Error: "internal error"}
	}
	return c.JSON(status, body)
}

// bind decodes the request body into v and runs its validate tags. The
// returned error is an *echo.HTTPError carrying an errorBody.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return echo.NewHTTPError(http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
