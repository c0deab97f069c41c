// Package credential builds and parses the signed QR payload. It is pure:
// no clock, no store, no I/O — callers supply the issuance time and decide
// separately whether a parsed credential is still within its validity window.
package credential

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
)

const envelopeVersion = "1.0"

var (
	// ErrMalformed covers everything short of a failed keyed-tag check:
	// broken envelope, bad base64, bad JSON, checksum mismatch.
	ErrMalformed = errors.New("malformed credential")
	// ErrTampered means the payload parsed but its HMAC did not verify:
	// either the payload was altered or it was signed with a different key.
	ErrTampered = errors.New("credential integrity check failed")
)

// Credential is the QR payload. Timestamps are epoch milliseconds so the
// serialized form matches what scanner apps already store offline.
type Credential struct {
	UserID         int64    `json:"user_id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	AccessLevel    string   `json:"access_level"`
	AllowedAreas   []string `json:"allowed_areas"`
	AllowedAreaIDs []int64  `json:"allowed_area_ids"`
	Timestamp      int64    `json:"timestamp"`
	ExpiresAt      int64    `json:"expires_at"`
}

func (c Credential) IssuedTime() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

func (c Credential) ExpiryTime() time.Time {
	return time.UnixMilli(c.ExpiresAt).UTC()
}

// Expired reports whether the credential is no longer valid at now.
// The boundary is exclusive: a credential is expired at exactly expires_at.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiryTime())
}

// envelope is the QR wire format. Data carries the keyed tag over the
// canonical payload bytes; Checksum is a short plain digest used as a fast
// corruption filter before the tag is checked.
type envelope struct {
	Payload  string `json:"payload"`
	Data     string `json:"data"`
	Checksum string `json:"checksum"`
	Version  string `json:"version"`
}

type Codec struct {
	secret []byte
	ttl    time.Duration
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// Issue builds a credential from the user's current authorization snapshot
// and returns the serialized QR content alongside the payload it encodes.
func (c *Codec) Issue(row models.SnapshotRow, now time.Time) (string, Credential, error) {
	cred := Credential{
		UserID:         row.UserID,
		Email:          row.Email,
		Name:           row.Name,
		AccessLevel:    row.AccessLevel,
		AllowedAreas:   row.AllowedAreas,
		AllowedAreaIDs: row.AllowedAreaIDs,
		Timestamp:      now.UnixMilli(),
		ExpiresAt:      now.Add(c.ttl).UnixMilli(),
	}
	if cred.AccessLevel == "" {
		cred.AccessLevel = models.DefaultAccessLevel
	}
	if cred.AllowedAreas == nil {
		cred.AllowedAreas = []string{}
	}
	if cred.AllowedAreaIDs == nil {
		cred.AllowedAreaIDs = []int64{}
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return "", Credential{}, fmt.Errorf("marshal credential: %w", err)
	}

	env := envelope{
		Payload:  base64.RawURLEncoding.EncodeToString(payload),
		Data:     c.tag(payload),
		Checksum: shortChecksum(payload),
		Version:  envelopeVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", Credential{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return string(raw), cred, nil
}

// Parse validates a QR token and recovers its payload. Expiry is NOT
// checked here: whether a credential parses and whether it is currently
// valid are separate questions with separate timestamps.
func (c *Codec) Parse(token string) (Credential, error) {
	var env envelope
	if err := json.Unmarshal([]byte(token), &env); err != nil {
		return Credential{}, ErrMalformed
	}
	if env.Version != envelopeVersion || env.Payload == "" || env.Data == "" {
		return Credential{}, ErrMalformed
	}

	payload, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return Credential{}, ErrMalformed
	}
	if shortChecksum(payload) != env.Checksum {
		return Credential{}, ErrMalformed
	}

	// The checksum above only filters accidental corruption; the keyed tag
	// is the authoritative integrity check.
	if !hmac.Equal([]byte(c.tag(payload)), []byte(env.Data)) {
		return Credential{}, ErrTampered
	}

	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return Credential{}, ErrMalformed
	}
	return cred, nil
}

func (c *Codec) tag(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func shortChecksum(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])[:8]
}
