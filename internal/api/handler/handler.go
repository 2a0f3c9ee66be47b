package handler

import (
	"errors"
	"net/http"

	"github.com/Rrens/sales-copilot/internal/api/response"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAgentNotConfigured), errors.Is(err, domain.ErrSessionNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrInvalidMessage):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrTurnInFlight):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrConversationEnded):
		response.Error(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		log.Error().Err(err).Msg("session store failure")
		response.ServiceUnavailable(w, domain.ErrPersistence.Error())
	default:
		log.Error().Err(err).Msg("unhandled error")
		response.InternalError(w, "internal server error")
	}
}

// validationMessage flattens validator errors into one line per field
func validationMessage(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
