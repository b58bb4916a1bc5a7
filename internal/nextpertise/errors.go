package nextpertise

import "fmt"

// AuthError is returned when the log-in exchange yields no usable access token,
// or when the exchange call itself fails.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "nextpertise: log-in failed: " + e.Err.Error()
	}
	return fmt.Sprintf("nextpertise: invalid credentials (status %d): %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is returned for a non-2xx response from the connection listing endpoint.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("nextpertise: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// UsageLookupError is returned when the usage of a connection cannot be read: either the
// endpoint answered with a non-2xx status or the body lacks one of the expected fields.
type UsageLookupError struct {
	ConnectionID string
	StatusCode   int
	Field        string
	Body         string
	Err          error
}

func (e *UsageLookupError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("nextpertise: usage lookup for %s: %v", e.ConnectionID, e.Err)
	case e.Field != "":
		return fmt.Sprintf("nextpertise: usage lookup for %s: missing %s in response: %s", e.ConnectionID, e.Field, e.Body)
	default:
		return fmt.Sprintf("nextpertise: usage lookup for %s returned %d: %s", e.ConnectionID, e.StatusCode, e.Body)
	}
}

func (e *UsageLookupError) Unwrap() error { return e.Err }
