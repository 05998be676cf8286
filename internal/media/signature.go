// Package media is the inbound edge for the external media transport. It
// only reports unrecoverable session failures into the state machine.
package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Media-Signature"
	HeaderTimestamp = "X-Media-Timestamp"

	// signatureTolerance bounds clock skew and replay window.
	signatureTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("media: missing signature")
	ErrBadSignature     = errors.New("media: signature mismatch")
	ErrStaleTimestamp   = errors.New("media: timestamp outside tolerance")
)

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. ts is the unix-seconds header value.
func Verify(secret, signature, ts string, body []byte, now time.Time) error {
	signature = strings.TrimSpace(signature)
	ts = strings.TrimSpace(ts)
	if signature == "" || ts == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew > signatureTolerance || skew < -signatureTolerance {
		return ErrStaleTimestamp
	}
	want := Sign(secret, unix, body)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}
	return nil
}
