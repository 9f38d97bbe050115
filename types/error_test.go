package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrHTTP, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrHTTP {
		t.Fatalf("expected code %s, got %s", ErrHTTP, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("page 3: %w", NewRateLimitError("p", "slow down"))
	if !IsErrorCode(wrapped, ErrRateLimited) {
		t.Fatalf("expected wrapped code to be found, got %q", GetErrorCode(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("expected wrapped rate limit error to be retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain error")
	}
}

func TestError_UserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{"http", NewHTTPError("p", 503, "busy"), []string{"status 503", "busy"}},
		{"auth", NewAuthError("p", ""), []string{"api key"}},
		{"config", NewConfigError("provider %s has no api key", "x"), []string{"provider x has no api key", "active provider"}},
		{"extraction", NewExtractionError("p", "no image found", "hello"), []string{"no image found", "response: hello"}},
	}
	for _, tt := range tests {
		msg := tt.err.UserMessage()
		for _, w := range tt.want {
			if !strings.Contains(msg, w) {
				t.Fatalf("%s: expected %q in %q", tt.name, w, msg)
			}
		}
	}
}

func TestPage_Validate(t *testing.T) {
	t.Parallel()

	if err := (Page{Index: 1, Type: PageContent}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Page{Index: -1, Type: PageContent}).Validate(); !IsErrorCode(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for negative index, got %v", err)
	}
	if err := (Page{Index: 0, Type: "poster"}).Validate(); !IsErrorCode(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown type, got %v", err)
	}
	if !(Page{Index: 0}).IsCover() || (Page{Index: 2, Type: PageContent}).IsCover() {
		t.Fatalf("cover detection mismatch")
	}
}
