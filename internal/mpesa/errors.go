package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrConfig matches any *ConfigError.
	ErrConfig = errors.New("mpesa: gateway not configured")
	// ErrTimeout means the gateway did not answer within the call's deadline.
	ErrTimeout = errors.New("mpesa: gateway timeout")
	// ErrUnreachable covers connection-level failures (DNS, reset, refused).
	ErrUnreachable = errors.New("mpesa: gateway unreachable")
	// ErrMalformed means a 2xx response could not be decoded or lacked required fields.
	ErrMalformed = errors.New("mpesa: malformed gateway response")
)

// ConfigError lists the credentials that are required but absent.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "mpesa: missing configuration: " + strings.Join(e.Missing, ", ")
}

// Is lets errors.Is(err, ErrConfig) match.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// HTTPError is a non-2xx answer from the gateway. Code and Message are taken
// from the gateway's errorCode/errorMessage, falling back to
// ResponseCode/ResponseDescription.
type HTTPError struct {
	Op         string // token | push | query
	StatusCode int
	Code       string
	Message    string
	Body       map[string]any
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mpesa: %s: http %d: %s (%s)", e.Op, e.StatusCode, e.Message, e.Code)
}

// transportError wraps a failed round trip as ErrTimeout or ErrUnreachable.
func transportError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
}
