package p11

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// defaultMaxSessions is the optimistic session capacity for a fresh
// slot, revised downward when the backend reports CKR_SESSION_COUNT.
const defaultMaxSessions = 16

// SessionMode is the read/write mode of a slot's session pool. Exactly
// one mode is active per slot at a time; the first session acquisition
// fixes it, and switching modes flushes the pool.
type SessionMode int

// Session pool modes
const (
	ModeUnset SessionMode = iota
	ModeReadOnly
	ModeReadWrite
)

func (m SessionMode) String() string {
	switch m {
	case ModeReadOnly:
		return "ro"
	case ModeReadWrite:
		return "rw"
	}
	return "unset"
}

// Principal is the authenticated role on a token.
type Principal int

// Principals
const (
	PrincipalNone Principal = iota
	PrincipalUser
	PrincipalSecurityOfficer
)

func (p Principal) String() string {
	switch p {
	case PrincipalUser:
		return "user"
	case PrincipalSecurityOfficer:
		return "so"
	}
	return "none"
}

// userType maps the principal to the CKU_* user type.
func (p Principal) userType() uint {
	if p == PrincipalSecurityOfficer {
		return pkcs11.CKU_SO
	}
	return pkcs11.CKU_USER
}

// Slot is one physical or logical backend slot. Description and
// Manufacturer never change for the slot's lifetime; the token is
// re-materialized on every probe.
type Slot struct {
	// Description is the human readable slot description.
	Description string
	// Manufacturer is the slot manufacturer.
	Manufacturer string
	// Removable is set when the slot holds removable media.
	Removable bool

	ctx        *Context
	id         uint
	generation atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond

	token *Token

	// session pool state, protected by mu
	mode       SessionMode
	pool       []pkcs11.SessionHandle // circular buffer, len = capacity+1
	head, tail int
	issued     int
	capacity   int

	// auth state, protected by mu
	principal Principal
	pin       secret
}

// ID returns the backend slot identifier.
func (s *Slot) ID() uint {
	return s.id
}

// Token returns the token currently materialized in the slot, or nil.
// The value is a snapshot: CheckToken replaces it and invalidates its
// caches, so callers must re-fetch after a probe rather than hold the
// old value.
func (s *Slot) Token() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Capacity returns the current cap on concurrently issued sessions.
func (s *Slot) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// initSlot reads the immutable slot info and, if the backend reports a
// token present, runs the initial probe. A probe failure fails the
// whole slot initialization.
func (c *Context) initSlot(id uint) (*Slot, error) {
	info, err := c.module.GetSlotInfo(id)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetSlotInfo on slot %d", id)
	}

	s := &Slot{
		Description:  strings.TrimSpace(info.SlotDescription),
		Manufacturer: strings.TrimSpace(info.ManufacturerID),
		Removable:    info.Flags&pkcs11.CKF_REMOVABLE_DEVICE != 0,
		ctx:          c,
		id:           id,
		mode:         ModeUnset,
		capacity:     defaultMaxSessions,
		pool:         make([]pkcs11.SessionHandle, defaultMaxSessions+1),
	}
	s.cond = sync.NewCond(&s.mu)
	s.generation.Store(c.generation.Load())

	if info.Flags&pkcs11.CKF_TOKEN_PRESENT != 0 {
		if err := s.CheckToken(); err != nil {
			s.releaseSlot()
			return nil, err
		}
	}
	return s, nil
}

// releaseSlot wipes the cached PIN, closes all backend sessions and
// destroys the token with its object caches.
func (s *Slot) releaseSlot() {
	s.mu.Lock()
	s.wipePINLocked()
	s.principal = PrincipalNone
	if err := s.ctx.module.CloseAllSessions(s.id); err != nil {
		logger.KV(xlog.WARNING, "reason", "CloseAllSessions", "slot", s.id, "err", err.Error())
	}
	s.issued = 0
	s.head, s.tail = 0, 0
	s.mode = ModeUnset
	tok := s.token
	s.token = nil
	s.mu.Unlock()

	if tok != nil {
		tok.destroy()
	}
}
