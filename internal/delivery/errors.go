package delivery

import (
	"errors"
	"fmt"
)

// Fatal failures end the job in error. ErrMessageSend is per message and
// never ends the job.
var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrRecipientNotFound = errors.New("recipient username or group not found")
	ErrEmptyBatch        = errors.New("uploaded file contains no messages")
	ErrMessageSend       = errors.New("message send failed")
	ErrInterrupted       = errors.New("interrupted: shutting down")
)

// panicError carries a recovered panic out of a provider call.
type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.v) }
