package services

import (
	"fmt"
	"strings"
)

// ExternalError is returned by the invoicing, SMS and WhatsApp clients on a non-2xx answer.
type ExternalError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ExternalError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 500 {
		body = body[:500] + "...(truncated)"
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, body)
}

func (e *ExternalError) HTTPStatus() int { return e.StatusCode }
