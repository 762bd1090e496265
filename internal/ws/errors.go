package ws

import (
	"errors"

	"github.com/tanvir/relaychat/internal/apperror"
)

// errorReason maps a router error to the reason string carried by a
// message:error event. Validation and unknown-recipient failures surface
// their own message; anything else (persistence failures included) gets a
// generic reason so internal details never reach the wire.
func errorReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrNotFound):
			return appErr.Message
		}
	}
	return "failed to send message"
}
