package p11

import (
	"github.com/pkg/errors"
)

// SeedRandom mixes seed material into the token's random number
// generator. The token is re-probed afterward since RNG operations can
// affect health counters on some backends.
func (s *Slot) SeedRandom(seed []byte) error {
	sh, err := s.GetSession(false)
	if err != nil {
		return err
	}
	err = s.ctx.module.SeedRandom(sh, seed)
	s.PutSession(sh)
	if err != nil {
		return errors.WithMessagef(err, "SeedRandom on slot %d", s.id)
	}
	return s.CheckToken()
}

// GenerateRandom returns n random bytes from the token's RNG and
// re-probes the token afterward.
func (s *Slot) GenerateRandom(n int) ([]byte, error) {
	sh, err := s.GetSession(false)
	if err != nil {
		return nil, err
	}
	buf, err := s.ctx.module.GenerateRandom(sh, n)
	s.PutSession(sh)
	if err != nil {
		return nil, errors.WithMessagef(err, "GenerateRandom on slot %d", s.id)
	}
	if err := s.CheckToken(); err != nil {
		return nil, err
	}
	return buf, nil
}
