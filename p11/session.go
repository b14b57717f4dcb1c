package p11

import (
	"time"

	"github.com/effective-security/xlog"
	"github.com/matje/libp11/metricskey"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// GetSession returns a live session for the slot.
//
// The first acquisition fixes the pool's read/write mode; subsequent
// calls get sessions in the fixed mode regardless of rw, until
// OpenSession switches it. Idle sessions are reused in FIFO order.
// When the pool has no idle session and the backend's capacity is
// reached, the call blocks until PutSession signals availability;
// there is no timeout, so callers that cannot block indefinitely must
// not call GetSession.
//
// A backend "session count exceeded" status is never surfaced: it
// permanently ratchets the capacity down to the number of sessions
// already issued and the call waits like any other exhausted acquire.
func (s *Slot) GetSession(rw bool) (pkcs11.SessionHandle, error) {
	if s.ctx.generation.Load() != s.generation.Load() {
		if err := s.reload(true); err != nil {
			return 0, err
		}
	}
	defer metricskey.PerfSessionAcquire.MeasureSince(time.Now(), "acquire")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeUnset {
		if rw {
			s.mode = ModeReadWrite
		} else {
			s.mode = ModeReadOnly
		}
	}
	flags := uint(pkcs11.CKF_SERIAL_SESSION)
	if s.mode == ModeReadWrite {
		flags |= pkcs11.CKF_RW_SESSION
	}

	for {
		// Idle session from the pool
		if s.head != s.tail {
			sh := s.pool[s.head]
			s.head = (s.head + 1) % len(s.pool)
			return sh, nil
		}

		// Check if a new one can be instantiated
		if s.issued < s.capacity {
			sh, err := s.ctx.module.OpenSession(s.id, flags)
			if err == nil {
				s.issued++
				return sh, nil
			}
			if !rvIs(err, pkcs11.CKR_SESSION_COUNT) {
				return 0, errors.WithMessagef(err, "OpenSession on slot %d", s.id)
			}
			// The backend told us its true limit.
			logger.KV(xlog.WARNING, "reason", "session_count", "slot", s.id, "capacity", s.issued)
			s.capacity = s.issued
		}

		// Wait for a session to become available
		s.cond.Wait()
	}
}

// PutSession returns a session to the slot's pool and wakes one
// waiter. The handle is not validated: callers must not return
// sessions invalidated by a mode switch or Reload.
func (s *Slot) PutSession(sh pkcs11.SessionHandle) {
	s.mu.Lock()
	s.pool[s.tail] = sh
	s.tail = (s.tail + 1) % len(s.pool)
	s.cond.Signal()
	s.mu.Unlock()
}

// OpenSession fixes the pool's read/write mode. If the requested mode
// differs from the current one, every backend session for the slot is
// closed in bulk and the pool is emptied before the new mode is
// adopted. Session handles still held by callers are invalid after a
// mode switch; callers must not hold sessions across it.
func (s *Slot) OpenSession(rw bool) error {
	mode := ModeReadOnly
	if rw {
		mode = ModeReadWrite
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == mode {
		return nil
	}
	if err := s.ctx.module.CloseAllSessions(s.id); err != nil {
		logger.KV(xlog.WARNING, "reason", "CloseAllSessions", "slot", s.id, "err", err.Error())
	}
	s.issued = 0
	s.head, s.tail = 0, 0
	s.mode = mode
	return nil
}
