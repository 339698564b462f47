package apperrors

import "errors"

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrInvalidSession   = errors.New("invalid session")
	ErrSessionExpired   = errors.New("session expired")
	ErrAuthorization    = errors.New("not authorized")
	ErrValidation       = errors.New("invalid payload")
	ErrRoomNotFound     = errors.New("room not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrLoadTimeout      = errors.New("message load timed out")
	ErrRetryExhausted   = errors.New("message load retries exhausted")
	ErrAIService        = errors.New("ai service error")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrNotFound         = errors.New("not found")
	ErrInternal         = errors.New("internal error")
)

// Code maps an error to the short code carried by the wire-level error event.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "AUTH_FAILED"
	case errors.Is(err, ErrInvalidSession):
		return "INVALID_SESSION"
	case errors.Is(err, ErrSessionExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, ErrAuthorization):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, ErrMessageNotFound):
		return "MESSAGE_NOT_FOUND"
	case errors.Is(err, ErrLoadTimeout):
		return "LOAD_TIMEOUT"
	case errors.Is(err, ErrRetryExhausted):
		return "RETRY_EXHAUSTED"
	case errors.Is(err, ErrAIService):
		return "AI_SERVICE_ERROR"
	case errors.Is(err, ErrDuplicateSession):
		return "DUPLICATE_SESSION"
	default:
		return "INTERNAL_ERROR"
	}
}
