package whispercore

import (
	"errors"
	"fmt"
)

// ErrorDomain identifies errors raised by this package.
const ErrorDomain = "WhisperCoreErrorDomain"

// ErrorCode classifies a failure. The five codes are disjoint.
type ErrorCode int

const (
	CodeModelLoadFailed       ErrorCode = 1001
	CodeTranscriptionFailed   ErrorCode = 1002
	CodeInvalidAudioData      ErrorCode = 1003
	CodeInvalidModelPath      ErrorCode = 1004
	CodeContextNotInitialized ErrorCode = 1005
)

func (c ErrorCode) String() string {
	switch c {
	case CodeModelLoadFailed:
		return "model load failed"
	case CodeTranscriptionFailed:
		return "transcription failed"
	case CodeInvalidAudioData:
		return "invalid audio data"
	case CodeInvalidModelPath:
		return "invalid model path"
	case CodeContextNotInitialized:
		return "context not initialized"
	default:
		return fmt.Sprintf("unknown error code %d", int(c))
	}
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrModelLoadFailed       = &Error{Code: CodeModelLoadFailed}
	ErrTranscriptionFailed   = &Error{Code: CodeTranscriptionFailed}
	ErrInvalidAudioData      = &Error{Code: CodeInvalidAudioData}
	ErrInvalidModelPath      = &Error{Code: CodeInvalidModelPath}
	ErrContextNotInitialized = &Error{Code: CodeContextNotInitialized}
)

// Error is the only error type returned by the public API.
type Error struct {
	Code ErrorCode
	// Op names the failing operation, e.g. "new" or "transcribe".
	Op  string
	Err error
}

func (e *Error) Error() string {
	msg := "whispercore"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a whispercore error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err, or 0 when err is not a whispercore error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func newError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}
