package httplimit

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

// A response advertising a content-length over the limit is rejected
// without reading the body.
func TestBytesWithLimitRejectsByContentLength(t *testing.T) {
	const limit = 16
	resp := &http.Response{
		ContentLength: 2 * limit,
		Body:          http.NoBody,
	}

	body, ok := BytesWithLimit(resp, limit)
	if ok || body != nil {
		t.Fatalf("expected (nil, false), got (%v, %v)", body, ok)
	}
}

func TestBytesWithLimitAcceptsWithinBudget(t *testing.T) {
	const limit = 64
	payload := "hello world"
	resp := &http.Response{
		ContentLength: int64(len(payload)),
		Body:          io.NopCloser(strings.NewReader(payload)),
	}

	body, ok := BytesWithLimit(resp, limit)
	if !ok {
		t.Fatalf("expected success")
	}
	if string(body) != payload {
		t.Errorf("got %q, want %q", body, payload)
	}
}

func TestBytesWithLimitRejectsOverBudgetUnknownLength(t *testing.T) {
	const limit = 8
	payload := strings.Repeat("x", 1024)
	resp := &http.Response{
		ContentLength: -1,
		Body:          io.NopCloser(strings.NewReader(payload)),
	}

	body, ok := BytesWithLimit(resp, limit)
	if ok || body != nil {
		t.Fatalf("expected (nil, false), got (%v, %v)", body, ok)
	}
}
