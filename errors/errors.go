package errors

import "fmt"

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrNameConflict  = fmt.Errorf("name already taken")
	ErrChannelClosed = fmt.Errorf("channel terminated")
	ErrMessageLength = fmt.Errorf("message length out of bounds")
	ErrSessionGone   = fmt.Errorf("session disconnected")
	ErrEmptyWords    = fmt.Errorf("no words have been found")
)
