package p11

import (
	"strings"
	"time"

	"github.com/effective-security/xlog"
	"github.com/matje/libp11/metricskey"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// Token is the credential store materialized in a Slot. Informational
// fields and flags are snapshots from the last probe; a re-probe
// replaces the whole Token, so cached keys and certificates are never
// valid across a probe boundary.
type Token struct {
	Label        string
	Manufacturer string
	Model        string
	Serial       string

	Initialized   bool
	LoginRequired bool
	SecureLogin   bool
	UserPINSet    bool
	ReadOnly      bool
	HasRNG        bool

	UserPINCountLow    bool
	UserPINFinalTry    bool
	UserPINLocked      bool
	UserPINToBeChanged bool
	SOPINCountLow      bool
	SOPINFinalTry      bool
	SOPINLocked        bool
	SOPINToBeChanged   bool

	slot  *Slot
	cache ObjectCache
}

// Slot returns the slot holding the token.
func (t *Token) Slot() *Slot {
	return t.slot
}

// Cache returns the object cache attached to the token.
func (t *Token) Cache() ObjectCache {
	return t.cache
}

// SetCache replaces the token's object cache. The previous cache is
// invalidated first.
func (t *Token) SetCache(c ObjectCache) {
	if t.cache != nil {
		invalidateCache(t.cache)
	}
	t.cache = c
}

// destroy invalidates the object caches when the slot drops the token.
// The fields are left intact: a holder that kept the snapshot across
// the probe boundary observes invalidated caches, never nil.
func (t *Token) destroy() {
	invalidateCache(t.cache)
}

func invalidateCache(c ObjectCache) {
	if c == nil {
		return
	}
	c.InvalidatePrivateKeys()
	c.InvalidatePublicKeys()
	c.InvalidateCertificates()
}

// CheckToken probes the slot for a token. It is idempotent and usable
// at any time: an existing token is destroyed first, its caches
// flushed. "Token not present" and "token not recognized" are not
// errors; the slot's token is simply cleared. On success a fresh Token
// with an empty object cache is attached.
func (s *Slot) CheckToken() error {
	defer metricskey.PerfSlotOperation.MeasureSince(time.Now(), "check_token")

	s.mu.Lock()
	old := s.token
	s.token = nil
	s.mu.Unlock()
	if old != nil {
		old.destroy()
	}

	info, err := s.ctx.module.GetTokenInfo(s.id)
	if err != nil {
		if rvIs(err, pkcs11.CKR_TOKEN_NOT_PRESENT) || rvIs(err, pkcs11.CKR_TOKEN_NOT_RECOGNIZED) {
			logger.KV(xlog.DEBUG, "slot", s.id, "token", "absent")
			return nil
		}
		return errors.WithMessagef(err, "GetTokenInfo on slot %d", s.id)
	}

	has := func(f uint) bool { return info.Flags&f != 0 }
	tok := &Token{
		Label:        strings.TrimSpace(info.Label),
		Manufacturer: strings.TrimSpace(info.ManufacturerID),
		Model:        strings.TrimSpace(info.Model),
		Serial:       strings.TrimSpace(info.SerialNumber),

		Initialized:   has(pkcs11.CKF_TOKEN_INITIALIZED),
		LoginRequired: has(pkcs11.CKF_LOGIN_REQUIRED),
		SecureLogin:   has(pkcs11.CKF_PROTECTED_AUTHENTICATION_PATH),
		UserPINSet:    has(pkcs11.CKF_USER_PIN_INITIALIZED),
		ReadOnly:      has(pkcs11.CKF_WRITE_PROTECTED),
		HasRNG:        has(pkcs11.CKF_RNG),

		UserPINCountLow:    has(pkcs11.CKF_USER_PIN_COUNT_LOW),
		UserPINFinalTry:    has(pkcs11.CKF_USER_PIN_FINAL_TRY),
		UserPINLocked:      has(pkcs11.CKF_USER_PIN_LOCKED),
		UserPINToBeChanged: has(pkcs11.CKF_USER_PIN_TO_BE_CHANGED),
		SOPINCountLow:      has(pkcs11.CKF_SO_PIN_COUNT_LOW),
		SOPINFinalTry:      has(pkcs11.CKF_SO_PIN_FINAL_TRY),
		SOPINLocked:        has(pkcs11.CKF_SO_PIN_LOCKED),
		SOPINToBeChanged:   has(pkcs11.CKF_SO_PIN_TO_BE_CHANGED),

		slot:  s,
		cache: NewHandleCache(),
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	logger.KV(xlog.TRACE, "slot", s.id, "label", tok.Label, "serial", tok.Serial)
	return nil
}
