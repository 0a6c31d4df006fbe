// Package httplimit implements streaming, size-bounded HTTP body readers:
// ReadAllWithLimit bounds the OAuth token endpoint's POST bodies, and
// BytesWithLimit applies the same bound to an *http.Response body.
package httplimit

import (
	"io"
	"net/http"
)

// BytesWithLimit reads resp.Body up to limit bytes. If the advertised
// Content-Length already exceeds limit, it returns (nil, false) without
// reading anything; otherwise it streams in chunks and bails out as soon
// as the cumulative size would exceed limit, again returning (nil,
// false) rather than a truncated body.
func BytesWithLimit(resp *http.Response, limit int64) ([]byte, bool) {
	if resp.ContentLength > limit {
		return nil, false
	}

	bufCap := limit
	if bufCap > 1024 {
		bufCap = 1024
	}
	buf := make([]byte, 0, bufCap)

	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, false
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, true
		}
		if err != nil {
			return nil, false
		}
	}
}

// ReadAllWithLimit is the non-HTTP-response variant used by the token
// endpoint to bound a raw POST body. It has the same short-circuit
// semantics as BytesWithLimit, expressed over a plain io.Reader plus an
// optional advertised size.
func ReadAllWithLimit(r io.Reader, advertisedLen int64, limit int64) ([]byte, bool) {
	if advertisedLen > limit {
		return nil, false
	}

	bufCap := limit
	if bufCap > 1024 {
		bufCap = 1024
	}
	buf := make([]byte, 0, bufCap)

	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, false
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, true
		}
		if err != nil {
			return nil, false
		}
	}
}
