package p11

// secret is credential material owned by a slot. The bytes are
// overwritten in place before the buffer is released or replaced, on
// every path, so credential material never survives in reclaimed
// memory.
type secret []byte

func newSecret(pin string) secret {
	return secret([]byte(pin))
}

func (s secret) wipe() {
	for i := range s {
		s[i] = 0
	}
}

// setPINLocked caches pin for re-authentication, wiping the previous
// buffer first. The slot lock must be held.
func (s *Slot) setPINLocked(pin string) {
	if string(s.pin) == pin {
		return
	}
	s.pin.wipe()
	s.pin = newSecret(pin)
}

// wipePINLocked erases and drops the cached PIN. The slot lock must be
// held.
func (s *Slot) wipePINLocked() {
	s.pin.wipe()
	s.pin = nil
}
