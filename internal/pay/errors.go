package pay

import (
	"fmt"
	"net/url"
	"strings"
)

// GatewayError is returned when a gateway answers with an unexpected HTTP status.
type GatewayError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s error: %s: %s", e.Provider, e.Status, trim(bt, 500))
}

func (e *GatewayError) HTTPStatus() int { return e.StatusCode }

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return c.String()
}
