package whispercore

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorCodesMatchDomain(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeModelLoadFailed, 1001},
		{CodeTranscriptionFailed, 1002},
		{CodeInvalidAudioData, 1003},
		{CodeInvalidModelPath, 1004},
		{CodeContextNotInitialized, 1005},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.want {
			t.Errorf("%s = %d, want %d", tt.code, int(tt.code), tt.want)
		}
	}
}

func TestErrorIsMatchesCodeOnly(t *testing.T) {
	err := fmt.Errorf("outer: %w", newError(CodeInvalidAudioData, "transcribe", io.ErrUnexpectedEOF))

	if !errors.Is(err, ErrInvalidAudioData) {
		t.Fatal("expected match on ErrInvalidAudioData")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("expected cause to be reachable")
	}
	sentinels := []error{ErrModelLoadFailed, ErrTranscriptionFailed, ErrInvalidModelPath, ErrContextNotInitialized}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			t.Fatalf("codes must be disjoint, matched %v", s)
		}
	}
	if got := CodeOf(err); got != CodeInvalidAudioData {
		t.Fatalf("CodeOf() = %d", got)
	}
	if got := CodeOf(io.EOF); got != 0 {
		t.Fatalf("CodeOf(io.EOF) = %d, want 0", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := newError(CodeInvalidModelPath, "new", errors.New("model path is empty"))
	msg := err.Error()
	for _, part := range []string{"whispercore", "new", "invalid model path", "model path is empty"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("message %q missing %q", msg, part)
		}
	}
	if got := ErrorCode(7).String(); got != "unknown error code 7" {
		t.Fatalf("unexpected unknown code string %q", got)
	}
}
