package types

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrConfigInvalidPort    = errors.New("config invalid port")
	ErrConfigInvalidTLS     = errors.New("config invalid tls material")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerNotInitialized = errors.New("server not initialized")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrRouteInvalid         = errors.New("route invalid")
)

var (
	ErrMiddlewareNotFound    = errors.New("middleware not found")
	ErrMiddlewareInvalidType = errors.New("middleware invalid type")
	ErrMiddlewareOrderCycle  = errors.New("middleware order cycle")
	ErrMiddlewareRegistered  = errors.New("middleware registration closed")
	ErrAuthTokenInvalid      = errors.New("auth token invalid")
)

var (
	ErrBodyAlreadySet   = errors.New("can't send data when the body has been set")
	ErrResponseFinished = errors.New("response already finished")
	ErrResponseWriter   = errors.New("response writer missing")
	ErrUnhandledFault   = errors.New("unhandled fault")
	ErrEventListener    = errors.New("event listener failed")
	ErrEventTypeIsNil   = errors.New("event type is empty")
	ErrListenerIsNil    = errors.New("listener is nil")
	ErrCacheKeyEmpty    = errors.New("cache key empty")
	ErrCacheTypeUnknown = errors.New("cache type unknown")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrProcessIsRunning    = errors.New("process is running")
	ErrProcessIsNotRunning = errors.New("process is not running")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// HTTPError carries the status an error responder should use.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status >= 400 {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}

// PanicError is a recovered panic turned into a pipeline fault.
type PanicError struct {
	Value interface{}
	cause error
}

func NewPanicError(value interface{}) *PanicError {
	var cause error
	switch v := value.(type) {
	case error:
		cause = pkgerrors.WithStack(v)
	default:
		cause = pkgerrors.Errorf("%v", v)
	}
	return &PanicError{Value: value, cause: cause}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	return e.cause
}

func (e *PanicError) StackTrace() pkgerrors.StackTrace {
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	if st, ok := e.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}
