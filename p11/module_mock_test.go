package p11

import (
	"sync"

	"github.com/miekg/pkcs11"
)

// fakeModule is an in-memory Module used across the package tests.
// Zero value maps are created by newFakeModule; fields are mutated
// directly by tests before use.
type fakeModule struct {
	mu sync.Mutex

	slotIDs     []uint
	slotInfo    map[uint]pkcs11.SlotInfo
	slotInfoErr map[uint]error

	tokenInfo      map[uint]pkcs11.TokenInfo
	tokenInfoErr   map[uint]error
	tokenInfoCalls map[uint]int

	// sessionLimit caps concurrently open sessions; 0 means unlimited.
	sessionLimit int
	openErr      error
	nextHandle   pkcs11.SessionHandle
	open         map[pkcs11.SessionHandle]uint
	openFlags    map[pkcs11.SessionHandle]uint
	totalOpened  int
	maxOpen      int
	closedAll    map[uint]int

	loginErr    error
	logoutErr   error
	loginCalls  []loginCall
	logoutCalls int

	initTokenCalls []initTokenCall
	initPINCalls   []string
	setPINCalls    [][2]string
	seeds          [][]byte
	randomErr      error

	finalized bool
	destroyed bool
}

type loginCall struct {
	userType uint
	pin      string
}

type initTokenCall struct {
	pin   string
	label string
}

func newFakeModule() *fakeModule {
	return &fakeModule{
		slotInfo:       make(map[uint]pkcs11.SlotInfo),
		slotInfoErr:    make(map[uint]error),
		tokenInfo:      make(map[uint]pkcs11.TokenInfo),
		tokenInfoErr:   make(map[uint]error),
		tokenInfoCalls: make(map[uint]int),
		open:           make(map[pkcs11.SessionHandle]uint),
		openFlags:      make(map[pkcs11.SessionHandle]uint),
		closedAll:      make(map[uint]int),
	}
}

// addSlot registers a slot without a token.
func (m *fakeModule) addSlot(id uint, info pkcs11.SlotInfo) {
	m.slotIDs = append(m.slotIDs, id)
	m.slotInfo[id] = info
}

// addToken marks the slot's token present with the given info.
func (m *fakeModule) addToken(id uint, info pkcs11.TokenInfo) {
	si := m.slotInfo[id]
	si.Flags |= pkcs11.CKF_TOKEN_PRESENT
	m.slotInfo[id] = si
	m.tokenInfo[id] = info
}

func (m *fakeModule) probes(id uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenInfoCalls[id]
}

func (m *fakeModule) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *fakeModule) GetSlotList(tokenPresent bool) ([]uint, error) {
	return append([]uint{}, m.slotIDs...), nil
}

func (m *fakeModule) GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error) {
	if err := m.slotInfoErr[slotID]; err != nil {
		return pkcs11.SlotInfo{}, err
	}
	return m.slotInfo[slotID], nil
}

func (m *fakeModule) GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error) {
	m.mu.Lock()
	m.tokenInfoCalls[slotID]++
	m.mu.Unlock()
	if err := m.tokenInfoErr[slotID]; err != nil {
		return pkcs11.TokenInfo{}, err
	}
	info, ok := m.tokenInfo[slotID]
	if !ok {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_TOKEN_NOT_PRESENT)
	}
	return info, nil
}

func (m *fakeModule) OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return 0, m.openErr
	}
	if m.sessionLimit > 0 && len(m.open) >= m.sessionLimit {
		return 0, pkcs11.Error(pkcs11.CKR_SESSION_COUNT)
	}
	m.nextHandle++
	sh := m.nextHandle
	m.open[sh] = slotID
	m.openFlags[sh] = flags
	m.totalOpened++
	if len(m.open) > m.maxOpen {
		m.maxOpen = len(m.open)
	}
	return sh, nil
}

func (m *fakeModule) CloseSession(sh pkcs11.SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, sh)
	return nil
}

func (m *fakeModule) CloseAllSessions(slotID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sh, id := range m.open {
		if id == slotID {
			delete(m.open, sh)
		}
	}
	m.closedAll[slotID]++
	return nil
}

func (m *fakeModule) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCalls = append(m.loginCalls, loginCall{userType: userType, pin: pin})
	return m.loginErr
}

func (m *fakeModule) Logout(sh pkcs11.SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutCalls++
	return m.logoutErr
}

func (m *fakeModule) InitToken(slotID uint, pin string, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initTokenCalls = append(m.initTokenCalls, initTokenCall{pin: pin, label: label})
	return nil
}

func (m *fakeModule) InitPIN(sh pkcs11.SessionHandle, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initPINCalls = append(m.initPINCalls, pin)
	return nil
}

func (m *fakeModule) SetPIN(sh pkcs11.SessionHandle, oldPin string, newPin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPINCalls = append(m.setPINCalls, [2]string{oldPin, newPin})
	return nil
}

func (m *fakeModule) SeedRandom(sh pkcs11.SessionHandle, seed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = append(m.seeds, append([]byte{}, seed...))
	return nil
}

func (m *fakeModule) GenerateRandom(sh pkcs11.SessionHandle, length int) ([]byte, error) {
	if m.randomErr != nil {
		return nil, m.randomErr
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf, nil
}

func (m *fakeModule) Finalize() error {
	m.finalized = true
	return nil
}

func (m *fakeModule) Destroy() {
	m.destroyed = true
}

// recordingCache counts invalidations, used to verify the cache
// contract on probe, logout and release paths.
type recordingCache struct {
	mu    sync.Mutex
	priv  int
	pub   int
	certs int
}

func (r *recordingCache) InvalidatePrivateKeys() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priv++
}

func (r *recordingCache) InvalidatePublicKeys() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pub++
}

func (r *recordingCache) InvalidateCertificates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs++
}

func (r *recordingCache) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.priv, r.pub, r.certs
}

// newTestSlot builds a context with one slot, id 1, without a token.
func newTestSlot(m *fakeModule) (*Context, *Slot, error) {
	m.addSlot(1, pkcs11.SlotInfo{SlotDescription: "test slot", ManufacturerID: "fake"})
	ctx := NewContext(m)
	slots, err := ctx.EnumerateSlots()
	if err != nil {
		return nil, nil, err
	}
	return ctx, slots[0], nil
}
