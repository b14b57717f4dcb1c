package p11

import (
	"time"

	"github.com/effective-security/xlog"
	"github.com/matje/libp11/metricskey"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// DefaultTokenLabel is applied by InitToken when no label is given.
const DefaultTokenLabel = "PKCS#11 Token"

// IsLoggedIn reports whether the slot is authenticated as exactly the
// given principal.
func (s *Slot) IsLoggedIn(principal Principal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal == principal
}

// Login authenticates the slot as the given principal.
//
// If any principal is already logged in the call succeeds without
// contacting the backend, even when the requested principal differs
// from the active one; the mismatch is logged but not corrected, so a
// caller must log out first to switch roles. A backend "already logged
// in" status is treated as success. On success the PIN is cached,
// replacing the previous one, for re-authentication after a pool
// reset.
func (s *Slot) Login(principal Principal, pin string) error {
	defer metricskey.PerfAuthOperation.MeasureSince(time.Now(), "login")

	s.mu.Lock()
	if s.principal != PrincipalNone {
		if s.principal != principal {
			logger.KV(xlog.WARNING, "reason", "already_logged_in",
				"slot", s.id, "active", s.principal.String(), "requested", principal.String())
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// SO needs a r/w session, user can be checked with a r/o session.
	sh, err := s.GetSession(principal == PrincipalSecurityOfficer)
	if err != nil {
		return err
	}
	err = s.ctx.module.Login(sh, principal.userType(), pin)
	s.PutSession(sh)

	if err != nil && !rvIs(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
		return errors.WithMessagef(err, "Login on slot %d", s.id)
	}

	s.mu.Lock()
	s.setPINLocked(pin)
	s.principal = principal
	s.mu.Unlock()
	return nil
}

// Logout ends the authenticated state. The token's cached keys and
// certificates are invalidated first: a logout must not leave stale
// credential-bound objects reachable. Local state transitions to
// logged-out unconditionally; a backend error is still returned so the
// caller can investigate it while already being logged out locally.
func (s *Slot) Logout() error {
	defer metricskey.PerfAuthOperation.MeasureSince(time.Now(), "logout")

	s.mu.Lock()
	tok := s.token
	principal := s.principal
	s.mu.Unlock()

	if tok != nil {
		invalidateCache(tok.cache)
	}

	var callErr error
	if principal != PrincipalNone {
		sh, err := s.GetSession(principal == PrincipalSecurityOfficer)
		if err != nil {
			callErr = err
		} else {
			callErr = s.ctx.module.Logout(sh)
			s.PutSession(sh)
		}
	}

	s.mu.Lock()
	s.principal = PrincipalNone
	s.mu.Unlock()

	if callErr != nil {
		return errors.WithMessagef(callErr, "Logout on slot %d", s.id)
	}
	return nil
}

// Reload re-establishes the slot after its sessions were invalidated
// externally, e.g. by a generation bump or a presumed device reset.
// Pool bookkeeping is reset to empty and, if a principal was logged
// in, the login is re-run with the cached PIN.
func (s *Slot) Reload() error {
	return s.reload(false)
}

// reload with onlyStale set re-checks the generation under the slot
// lock: the first caller to observe a mismatch stores the current
// generation and performs the reset, later callers return without
// touching the pool.
func (s *Slot) reload(onlyStale bool) error {
	s.mu.Lock()
	if onlyStale && s.generation.Load() == s.ctx.generation.Load() {
		s.mu.Unlock()
		return nil
	}
	s.generation.Store(s.ctx.generation.Load())
	s.issued = 0
	s.head, s.tail = 0, 0
	principal := s.principal
	var pin string
	if principal != PrincipalNone {
		s.principal = PrincipalNone
		pin = string(s.pin)
	}
	s.mu.Unlock()

	if principal != PrincipalNone {
		logger.KV(xlog.DEBUG, "reason", "relogin", "slot", s.id, "principal", principal.String())
		return s.Login(principal, pin)
	}
	return nil
}

// InitToken provisions a fresh token in the slot with the initial SO
// PIN and label. The cached Token state is not refreshed; run
// CheckToken to observe the new label and flags.
func (s *Slot) InitToken(pin, label string) error {
	if label == "" {
		label = DefaultTokenLabel
	}
	err := s.ctx.module.InitToken(s.id, pin, label)
	if err != nil {
		return errors.WithMessagef(err, "InitToken on slot %d", s.id)
	}
	return nil
}

// InitPIN sets the user PIN, then re-probes the token since
// provisioning changes the PIN-set and health flags.
func (s *Slot) InitPIN(pin string) error {
	sh, err := s.GetSession(true)
	if err != nil {
		return err
	}
	err = s.ctx.module.InitPIN(sh, pin)
	s.PutSession(sh)
	if err != nil {
		return errors.WithMessagef(err, "InitPIN on slot %d", s.id)
	}
	return s.CheckToken()
}

// ChangePIN changes the PIN of the currently authenticated principal,
// then re-probes the token.
func (s *Slot) ChangePIN(oldPIN, newPIN string) error {
	sh, err := s.GetSession(true)
	if err != nil {
		return err
	}
	err = s.ctx.module.SetPIN(sh, oldPIN, newPIN)
	s.PutSession(sh)
	if err != nil {
		return errors.WithMessagef(err, "SetPIN on slot %d", s.id)
	}
	return s.CheckToken()
}
