package terrr

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock は、非ブロッキング操作がすぐに完了できない場合に返されるエラー
	ErrWouldBlock = errors.New("operation would block")
	// ErrInterrupted は、待機がシグナルで中断された場合に返されるエラー
	ErrInterrupted = errors.New("wait interrupted")
	ErrSocket      = errors.New("socket allocation failed")
	ErrBind        = errors.New("bind failed")
	ErrAccept      = errors.New("accept failed")
)

// SetupError is returned while the listening endpoint is being created.
// The process is expected to exit when it sees one.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// FatalWaitError means the readiness wait failed for a reason other than
// signal interruption. The event loop stops after returning it.
type FatalWaitError struct {
	Err error
}

func (e *FatalWaitError) Error() string {
	return fmt.Sprintf("wait for events: %v", e.Err)
}

func (e *FatalWaitError) Unwrap() error {
	return e.Err
}
