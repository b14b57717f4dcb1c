package p11

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/xlog"
	"github.com/matje/libp11/metricskey"
	"github.com/pkg/errors"
)

var logger = xlog.NewPackageLogger("github.com/matje/libp11", "p11")

// Context owns one loaded PKCS#11 module and the slots enumerated from
// it. All slots and tokens are owned transitively by the Context.
//
// The generation counter signals that OS-level state cached from the
// backend must be rebuilt: a Slot captures the generation at creation
// and re-checks it on session acquisition, rebuilding its pool and
// re-authenticating when the values diverge.
type Context struct {
	module     Module
	generation atomic.Uint64

	mu    sync.Mutex
	slots []*Slot

	// set by Load; closes the shared module on Close
	release func() error
}

// NewContext wraps an initialized module. The caller keeps ownership of
// the module lifecycle; use Load to have the module opened and closed
// by the Context.
func NewContext(m Module) *Context {
	return &Context{module: m}
}

// Module returns the backend module.
func (c *Context) Module() Module {
	return c.module
}

// Generation returns the current generation value.
func (c *Context) Generation() uint64 {
	return c.generation.Load()
}

// Invalidate bumps the generation counter. Every slot rebuilds its
// session pool, and re-authenticates with the cached PIN, on its next
// session acquisition.
func (c *Context) Invalidate() uint64 {
	gen := c.generation.Add(1)
	logger.KV(xlog.DEBUG, "reason", "invalidate", "generation", gen)
	return gen
}

// Slots returns the slots from the last enumeration.
func (c *Context) Slots() []*Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots
}

// EnumerateSlots queries the backend for the current slot list and
// initializes a Slot for each entry. The call fails atomically: if any
// slot fails to initialize, all slots of the batch are released and an
// error is returned. A previous enumeration is released first.
func (c *Context) EnumerateSlots() ([]*Slot, error) {
	defer metricskey.PerfSlotOperation.MeasureSince(time.Now(), "enumerate")

	ids, err := c.module.GetSlotList(false)
	if err != nil {
		return nil, errors.WithMessage(err, "GetSlotList")
	}
	logger.KV(xlog.TRACE, "slots", len(ids))

	slots := make([]*Slot, 0, len(ids))
	for _, id := range ids {
		slot, err := c.initSlot(id)
		if err != nil {
			for _, s := range slots {
				s.releaseSlot()
			}
			return nil, errors.WithMessagef(err, "slot %d", id)
		}
		slots = append(slots, slot)
	}

	c.mu.Lock()
	prev := c.slots
	c.slots = slots
	c.mu.Unlock()

	if prev != nil {
		logger.KV(xlog.DEBUG, "reason", "re_enumerate", "released", len(prev))
		releaseSlots(prev)
	}
	return slots, nil
}

// ReleaseAllSlots tears down every slot from the last enumeration:
// cached PINs are wiped, backend sessions closed, tokens and their
// object caches destroyed.
func (c *Context) ReleaseAllSlots() {
	c.mu.Lock()
	slots := c.slots
	c.slots = nil
	c.mu.Unlock()
	releaseSlots(slots)
}

func releaseSlots(slots []*Slot) {
	for _, s := range slots {
		s.releaseSlot()
	}
}

// FindSlot returns the first slot whose token matches the given serial
// number or label. If both are specified, the first match wins.
func (c *Context) FindSlot(serial, label string) (*Slot, error) {
	for _, s := range c.Slots() {
		tok := s.Token()
		if tok == nil {
			continue
		}
		if serial != "" && tok.Serial == serial {
			return s, nil
		}
		if label != "" && tok.Label == label {
			return s, nil
		}
	}
	return nil, errors.Errorf("token not found: serial=%q, label=%q", serial, label)
}

// Close releases all slots and, when the Context was produced by Load,
// drops its reference to the shared module.
func (c *Context) Close() error {
	c.ReleaseAllSlots()
	if c.release != nil {
		release := c.release
		c.release = nil
		return release()
	}
	return nil
}
