// Package token validates single-use, time-bounded access tokens. A token is
// a fixed 70-character string: 16 hex chars of payload, a 44-char base64
// signature over {payload, exp}, and a 10-digit unix expiry. A persisted
// ledger row marks a payload as consumed; every re-presentation of the same
// token fails there.
package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/sign"
	"github.com/org/licenseserver/internal/storage"
	"github.com/org/licenseserver/pkg/models"
	"github.com/rs/zerolog/log"
)

// Wire layout offsets.
const (
	TokenLength     = 70
	payloadLength   = 16
	signatureLength = 44
)

// Authority verifies tokens against the anti-replay ledger.
type Authority struct {
	store storage.RegistryStore
	now   func() time.Time
}

// NewAuthority creates an Authority using the wall clock.
func NewAuthority(store storage.RegistryStore) *Authority {
	return &Authority{store: store, now: time.Now}
}

// NewAuthorityWithClock creates an Authority with an injected clock.
func NewAuthorityWithClock(store storage.RegistryStore, now func() time.Time) *Authority {
	return &Authority{store: store, now: now}
}

// Verify checks a token end to end: length, expiry, signature under the
// caller's signing pair, and first use. Only a fully valid fresh token
// writes the ledger row; the write is what makes the token single-use.
func (a *Authority) Verify(ctx context.Context, token string, iv, key []byte) error {
	if len(token) != TokenLength {
		return fmt.Errorf("%w: missing or invalid token", lserr.ErrAuthFailed)
	}

	expStr := token[payloadLength+signatureLength:]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing or invalid token", lserr.ErrAuthFailed)
	}
	if exp <= a.now().Unix() {
		log.Debug().Str("token", token).Int64("exp", exp).Msg("expired token")
		return fmt.Errorf("%w: token expired", lserr.ErrAuthFailed)
	}

	payload := token[:payloadLength]
	signature := token[payloadLength : payloadLength+signatureLength]
	params := sign.Params{
		sign.SignField: signature,
		"payload":      payload,
		"exp":          expStr,
	}
	if !sign.Verify(params, iv, key) {
		log.Debug().Str("token", token).Msg("wrong token signature")
		return fmt.Errorf("%w: missing or invalid token", lserr.ErrAuthFailed)
	}

	used, err := a.store.HasToken(ctx, payload)
	if err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("checking token ledger")
		return lserr.ErrInternal
	}
	if used {
		log.Debug().Str("token", token).Msg("token already used")
		return fmt.Errorf("%w: token already used", lserr.ErrAuthFailed)
	}

	if err := a.store.InsertToken(ctx, &models.Token{Payload: payload, Exp: exp}); err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("recording token")
		return lserr.ErrInternal
	}
	return nil
}

// DeleteExpired removes every ledger row whose expiry is in the past and
// returns the count. Maintenance only; never called on the request path.
func (a *Authority) DeleteExpired(ctx context.Context) (int64, error) {
	deleted, err := a.store.DeleteExpiredTokens(ctx, a.now().Unix())
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted", deleted).Msg("deleted expired tokens")
	return deleted, nil
}

// Mint builds a wire token for the given payload and expiry, signed with the
// provider's signing pair. Used by clients and tests; the server itself only
// verifies.
func Mint(payload string, exp int64, iv, key []byte) (string, error) {
	if len(payload) != payloadLength {
		return "", fmt.Errorf("payload must be %d hex chars, got %d", payloadLength, len(payload))
	}
	expStr := strconv.FormatInt(exp, 10)
	if len(expStr) != TokenLength-payloadLength-signatureLength {
		return "", fmt.Errorf("exp %d does not encode to 10 digits", exp)
	}
	signature, err := sign.Sign(sign.Params{"payload": payload, "exp": expStr}, iv, key)
	if err != nil {
		return "", err
	}
	return payload + signature + expStr, nil
}
