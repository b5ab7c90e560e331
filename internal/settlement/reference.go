package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/booking"
)

// ErrBadReference is returned when a checkout reference fails decoding or
// signature verification.
var ErrBadReference = errors.New("settlement: invalid checkout reference")

// CheckoutReference encodes the intended slot into the gateway reference
// token, so the confirmation callback can settle without any stored intent.
type CheckoutReference struct {
	TherapistID uuid.UUID    `json:"therapist_id"`
	ClientID    uuid.UUID    `json:"client_id"`
	Date        string       `json:"date"` // YYYY-MM-DD
	StartTime   string       `json:"start_time"`
	Mode        booking.Mode `json:"mode"`
	AmountCents int64        `json:"amount_cents"`
	Nonce       string       `json:"nonce"`
}

// AppointmentDate parses the encoded calendar date.
func (r CheckoutReference) AppointmentDate() (time.Time, error) {
	return time.Parse(time.DateOnly, r.Date)
}

// ReferenceCodec signs and verifies checkout references with an HMAC secret
// shared with nobody: the gateway just echoes the token back.
type ReferenceCodec struct {
	secret []byte
}

func NewReferenceCodec(secret string) *ReferenceCodec {
	return &ReferenceCodec{secret: []byte(secret)}
}

// Encode serializes and signs a reference. Format: base64url(json).hexhmac.
func (c *ReferenceCodec) Encode(ref CheckoutReference) (string, error) {
	if ref.Nonce == "" {
		ref.Nonce = uuid.NewString()
	}
	payload, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("settlement: marshal reference: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + c.sign(body), nil
}

// Decode verifies the signature and unpacks the reference.
func (c *ReferenceCodec) Decode(token string) (*CheckoutReference, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrBadReference
	}
	if !hmac.Equal([]byte(c.sign(body)), []byte(sig)) {
		return nil, ErrBadReference
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrBadReference
	}
	var ref CheckoutReference
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, ErrBadReference
	}
	if _, err := ref.AppointmentDate(); err != nil {
		return nil, ErrBadReference
	}
	return &ref, nil
}

func (c *ReferenceCodec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
