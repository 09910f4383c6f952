package exchange

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInvalidQuantityPrecision = errors.New("invalid quantity precision")
)

// Exchange messages mapped onto the sentinels above.
var messageSentinels = []struct {
	fragment string
	target   error
}{
	{"New order cost exceeds available balance", ErrInsufficientBalance},
	{"Invalid quantity precision", ErrInvalidQuantityPrecision},
}

// APIError is an error reported by the exchange, either through a non-2xx
// status or an ERROR envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error %d (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("exchange error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Is lets callers match exchange messages with errors.Is.
func (e *APIError) Is(target error) bool {
	for _, ms := range messageSentinels {
		if target == ms.target && strings.Contains(e.Message, ms.fragment) {
			return true
		}
	}
	return false
}
