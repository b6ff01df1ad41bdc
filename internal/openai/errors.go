package openai

import (
	"errors"
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// TranslateError tags go-openai failures with the domain error taxonomy so the
// gateway can decide whether to retry. Errors without an HTTP status pass
// through unchanged.
func TranslateError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransientExternal, domain.ErrRateLimited.Message, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, domain.ErrExternalTimeout.Message, err)
	case status >= 500:
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransientExternal, domain.ErrServiceDown.Message, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal, domain.ErrExternalAuth.Message, err)
	default:
		return domain.NewDomainErrorWithCause(domain.ErrCodePermanentExternal, "request rejected by external service", err)
	}
}
