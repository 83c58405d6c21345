package shared

import "errors"

// Error kinds. Domain packages wrap one of these so transport layers can
// classify failures without importing every domain package.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrRejected indicates a well-formed request refused by a business rule.
	ErrRejected = errors.New("rejected")
)

// ErrOverpayment is returned when an advance or payment exceeds the amount it
// is applied against (sale total, sale due, purchase due, vendor due).
var ErrOverpayment = wrapKind("payment exceeds amount owed", ErrRejected)

// ErrInvalidAmount indicates a non-positive monetary amount where one is required.
var ErrInvalidAmount = wrapKind("amount must be greater than zero", ErrValidation)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// wrapKind builds a sentinel that matches both itself and kind under errors.Is.
func wrapKind(msg string, kind error) error {
	return &kindError{msg: msg, kind: kind}
}

// NewKindError creates a sentinel error classified under kind.
func NewKindError(msg string, kind error) error {
	return wrapKind(msg, kind)
}

// UserSafeMessage returns a message suitable for API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrRejected),
		errors.Is(err, ErrIdempotencyConflict):
		return err.Error()
	default:
		return "internal error"
	}
}
