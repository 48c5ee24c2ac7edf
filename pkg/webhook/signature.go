package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

// Signature is HMAC-SHA256(secret, "<timestamp>.<payload>") in hex.
type Signature struct {
	Value     string
	Timestamp int64
	ID        string
}

func (s Signature) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Value)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	h.Set(HeaderID, s.ID)
}

func Sign(secret string, payload []byte, at time.Time) (Signature, error) {
	if secret == "" {
		return Signature{}, ErrMissingSecret
	}
	ts := at.Unix()
	return Signature{Value: mac(secret, ts, payload), Timestamp: ts, ID: uuid.NewString()}, nil
}

// Verify checks the signature headers on h against payload. Signatures older
// than maxAge are rejected when maxAge is positive.
func Verify(secret string, payload []byte, h http.Header, maxAge time.Duration) error {
	if secret == "" {
		return ErrMissingSecret
	}
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureMismatch)
	}
	if maxAge > 0 && time.Since(time.Unix(ts, 0)) > maxAge {
		return fmt.Errorf("%w: signature expired", ErrSignatureMismatch)
	}
	if !hmac.Equal([]byte(mac(secret, ts, payload)), []byte(h.Get(HeaderSignature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func mac(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", ts, payload)
	return hex.EncodeToString(h.Sum(nil))
}
