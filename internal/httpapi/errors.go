package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"call-signaling/internal/calls"
	"call-signaling/internal/negotiation"
	"call-signaling/internal/quality"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeStaleState        = "stale_state"
	CodeBusy              = "busy"
	CodeInvalidSession    = "invalid_session"
	CodeInternal          = "internal"
)

var (
	errNotConfigured = errors.New("httpapi: dependency not configured")
	errInvalidParams = fmt.Errorf("%w: invalid params", calls.ErrInvalidArgument)
)

type errorBody struct {
	Code    string   `json:"code"`
	Error   string   `json:"error"`
	UserIDs []string `json:"userIds,omitempty"`
}

// classify maps a domain error to its HTTP status and public body.
// Everything not listed is an internal error with a generic message.
func classify(err error) (int, errorBody) {
	var busy *calls.BusyError
	switch {
	case errors.As(err, &busy):
		return http.StatusConflict, errorBody{Code: CodeBusy, Error: "user busy", UserIDs: busy.UserIDs}
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, negotiation.ErrInvalidPayload),
		errors.Is(err, quality.ErrInvalidSample),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody{Code: CodeInvalidArgument, Error: err.Error()}
	case errors.Is(err, calls.ErrUnauthorized), errors.Is(err, quality.ErrNotParticipant):
		return http.StatusForbidden, errorBody{Code: CodeUnauthorized, Error: "not a participant of this call"}
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: CodeNotFound, Error: "call not found"}
	case errors.Is(err, calls.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Code: CodeInvalidTransition, Error: "call no longer available"}
	case errors.Is(err, calls.ErrStaleState):
		return http.StatusConflict, errorBody{Code: CodeStaleState, Error: "call state changed"}
	case errors.Is(err, negotiation.ErrInvalidSession):
		return http.StatusConflict, errorBody{Code: CodeInvalidSession, Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: CodeInternal, Error: "internal error"}
	}
}

func writeError(c *gin.Context, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func frameError(err error) signaling.ErrorShape {
	_, body := classify(err)
	return signaling.ErrorShape{Code: body.Code, Message: body.Error}
}
