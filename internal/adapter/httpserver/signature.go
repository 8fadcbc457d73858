package httpserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/filot/docverify/internal/observability"
)

// signatureHeader carries the reviewer's HMAC over the raw request body as
// "sha256=<lowercase-hex>".
const signatureHeader = "X-Buli2-Signature"

// ComputeSignature returns the header value for a given body and secret.
// Exported for the drainer's callback tests and for local tooling.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature authenticates inbound reviewer callbacks. The body is read
// in full before verification and restored for the downstream handler; a
// tampered or missing signature never reaches business logic.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(signatureHeader)
			if got == "" {
				writeErrorCode(w, http.StatusUnauthorized, "MISSING_SIGNATURE", "signature header required", nil)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			want := ComputeSignature(secret, body)
			if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
				observability.LoggerFromContext(r.Context()).Warn("callback signature mismatch",
					"path", r.URL.Path)
				writeErrorCode(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature mismatch", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
