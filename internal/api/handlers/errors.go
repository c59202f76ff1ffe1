package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error *domain.Error `json:"error"`
}

// statusFor maps an engine error onto an HTTP status code.
func statusFor(e *domain.Error) int {
	switch e.Kind {
	case domain.KindValidation:
		switch e.Reason {
		case domain.ReasonTerminalState, domain.ReasonIllegalTransition, domain.ReasonInvalidState,
			domain.ReasonQuantityExceeds, domain.ReasonGatewayRejected:
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindCapacity:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	e := domain.AsError(err)
	status := statusFor(e)

	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error().Err(err)
	}
	evt.Str("path", c.FullPath()).
		Str("kind", string(e.Kind)).
		Str("reason", string(e.Reason)).
		Msg(e.Message)

	if status >= http.StatusInternalServerError {
		// do not leak driver errors to clients
		e = &domain.Error{Kind: e.Kind, Reason: e.Reason, Message: "internal error", OrderID: e.OrderID}
	}
	c.AbortWithStatusJSON(status, errorBody{Error: e})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, domain.Validation(domain.ReasonInvalidRequest, "invalid request body: %v", err))
}

func parseNonNegativeInt(value string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// parseStatusLabel accepts "ready_to_ship" style labels. Unknown labels are
// passed through normalised so the engine reports UNKNOWN_STATE itself.
func parseStatusLabel(label string) domain.Status {
	s, _ := domain.ParseStatus(label)
	return s
}
