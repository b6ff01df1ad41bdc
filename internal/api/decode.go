package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// DecodeJSON reads the request body into v. A body cut off by the size limit
// is reported as PAYLOAD_TOO_LARGE, anything else unreadable as a
// VALIDATION_ERROR.
func DecodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewDomainErrorWithCause(domain.ErrCodePayloadTooLarge, domain.ErrPayloadTooLarge.Message, err)
	}
	return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid request body", err)
}
