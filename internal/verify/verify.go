// Package verify decides scan-time access. A decision is a single
// transition from a received token to a terminal outcome; the verifier
// holds no state between scans and persists nothing itself.
package verify

import (
	"context"
	"errors"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/credential"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
)

type Code string

const (
	Granted             Code = "granted"
	GrantedDegraded     Code = "granted_degraded"
	DeniedMalformed     Code = "denied_malformed"
	DeniedExpired       Code = "denied_expired"
	DeniedInactiveUser  Code = "denied_inactive_user"
	DeniedNotAuthorized Code = "denied_not_authorized"
)

// Outcome is the discriminated result of one scan attempt. Degraded marks
// a grant made against the credential's embedded claims because the live
// snapshot store was unreachable; it is never equivalent to a live grant
// and must be carried through to the audit log.
type Outcome struct {
	Code       Code
	Granted    bool
	Degraded   bool
	Reason     string
	Credential credential.Credential
}

func denied(code Code, reason string, cred credential.Credential) Outcome {
	return Outcome{Code: code, Reason: reason, Credential: cred}
}

// SnapshotSource yields the live authorization row for a user. The full
// store satisfies it; tests supply fakes.
type SnapshotSource interface {
	GetUserSnapshot(ctx context.Context, userID int64) (models.SnapshotRow, error)
}

type Verifier struct {
	codec         *credential.Codec
	source        SnapshotSource
	allowDegraded bool
}

func New(codec *credential.Codec, source SnapshotSource, allowDegraded bool) *Verifier {
	return &Verifier{codec: codec, source: source, allowDegraded: allowDegraded}
}

// Verify runs the scan decision for a raw QR token against a target area.
//
// The credential's embedded area set is a point-in-time claim; the live
// snapshot is the authority, so access revoked after issuance is still
// denied here. Only when the store is unreachable, and degraded mode was
// enabled at construction, does the embedded claim decide — flagged as
// such in the outcome.
func (v *Verifier) Verify(ctx context.Context, token string, areaID int64, now time.Time) (Outcome, error) {
	cred, err := v.codec.Parse(token)
	if err != nil {
		if errors.Is(err, credential.ErrTampered) {
			return denied(DeniedMalformed, "credential integrity check failed", credential.Credential{}), nil
		}
		return denied(DeniedMalformed, "malformed credential", credential.Credential{}), nil
	}

	if cred.Expired(now) {
		return denied(DeniedExpired, "credential expired", cred), nil
	}

	row, err := v.source.GetUserSnapshot(ctx, cred.UserID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return denied(DeniedInactiveUser, "user inactive or unknown", cred), nil
		case errors.Is(err, store.ErrUnavailable) && v.allowDegraded:
			return v.degraded(cred, areaID), nil
		default:
			return Outcome{}, err
		}
	}

	if !row.HasAreaID(areaID) {
		return denied(DeniedNotAuthorized, "not authorized for area", cred), nil
	}
	return Outcome{Code: Granted, Granted: true, Reason: "access granted", Credential: cred}, nil
}

func (v *Verifier) degraded(cred credential.Credential, areaID int64) Outcome {
	for _, id := range cred.AllowedAreaIDs {
		if id == areaID {
			return Outcome{
				Code:       GrantedDegraded,
				Granted:    true,
				Degraded:   true,
				Reason:     "access granted from embedded claims, live authorization unavailable",
				Credential: cred,
			}
		}
	}
	out := denied(DeniedNotAuthorized, "not authorized for area", cred)
	out.Degraded = true
	return out
}
