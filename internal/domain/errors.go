package domain

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAuth              = errors.New("authorization failed")
	ErrProposal          = errors.New("proposal rejected")
	ErrPurchase          = errors.New("purchase rejected")
	ErrBroker            = errors.New("broker error")
	ErrConnection        = errors.New("connection error")
	ErrNotConnected      = errors.New("not connected")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrSessionLimit      = errors.New("session limit reached")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnavailable       = errors.New("unavailable")
)

// BrokerError is a rejection returned by the broker. Message is the broker's
// own text and is shown to users unchanged.
type BrokerError struct {
	Kind    error
	Code    string
	Message string
}

// NewBrokerError tags a broker rejection with one of ErrAuth, ErrProposal,
// ErrPurchase or ErrBroker.
func NewBrokerError(kind error, code, message string) *BrokerError {
	return &BrokerError{Kind: kind, Code: code, Message: message}
}

func (e *BrokerError) Error() string { return e.Message }

func (e *BrokerError) Unwrap() error { return e.Kind }

// ValidationError reports a request that was rejected before any broker call.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Kind }

// Invalid returns an ErrInvalidInput validation error with a user-facing message.
func Invalid(message string) error {
	return &ValidationError{Kind: ErrInvalidInput, Message: message}
}

// InvalidArgument returns an ErrInvalidArgument validation error.
func InvalidArgument(message string) error {
	return &ValidationError{Kind: ErrInvalidArgument, Message: message}
}

// NotConnected is returned when a live operation has no usable session.
func NotConnected() error {
	return &ValidationError{Kind: ErrNotConnected, Message: "Not connected"}
}

// UserMessage extracts the text that should be shown to an API caller.
// Broker and validation errors are passed through verbatim; anything else
// falls back to err.Error().
func UserMessage(err error) string {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}
