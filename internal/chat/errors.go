package chat

import "errors"

// Error taxonomy shared by every core operation. Call sites wrap these with
// fmt.Errorf("%w: ...") so the wire code survives while the message carries
// the detail.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrTooLong         = errors.New("message too long")
	ErrEmpty           = errors.New("message empty")
	ErrInternal        = errors.New("internal error")
)

// ErrorCode maps an error to the stable code sent to clients in error events.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrEmpty):
		return "empty"
	default:
		return "internal"
	}
}

// PublicMessage returns the text that is safe to show to the originating
// client. Internal failures are collapsed to a generic message so store
// errors never leak to the wire.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if ErrorCode(err) == "internal" {
		return "something went wrong, please try again"
	}
	return err.Error()
}
