package cli

import (
	"bytes"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/matje/libp11/p11"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/suite"
)

type testSuite struct {
	suite.Suite

	ctl *Cli
	// Out is the output buffer
	Out bytes.Buffer
}

func (s *testSuite) SetupTest() {
	s.Out.Reset()
	s.ctl = &Cli{}

	s.ctl.WithErrWriter(&s.Out).
		WithWriter(&s.Out)

	parser, err := kong.New(s.ctl,
		kong.Name("p11-tool"),
		kong.Description("CLI tool for PKCS#11 tokens"),
		kong.Writers(&s.Out, &s.Out),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	_, err = parser.Parse([]string{"--cfg=/tmp/softhsm.yaml"})
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}
}

func (s *testSuite) TearDownTest() {
}

// withSlots injects a context enumerated from the given module
func (s *testSuite) withSlots(m *mockedModule) {
	ctx := p11.NewContext(m)
	_, err := ctx.EnumerateSlots()
	s.Require().NoError(err)
	s.ctl.WithContext(ctx)
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// mockedConfig is a static token config for command tests
type mockedConfig struct {
	path   string
	serial string
	label  string
	pin    string
}

func (c *mockedConfig) Manufacturer() string { return "" }
func (c *mockedConfig) Model() string        { return "" }
func (c *mockedConfig) Path() string         { return c.path }
func (c *mockedConfig) TokenSerial() string  { return c.serial }
func (c *mockedConfig) TokenLabel() string   { return c.label }
func (c *mockedConfig) Pin() string          { return c.pin }

// mockedModule is an in-memory PKCS#11 backend for command tests
type mockedModule struct {
	slotIDs   []uint
	slotInfo  map[uint]pkcs11.SlotInfo
	tokenInfo map[uint]pkcs11.TokenInfo

	next pkcs11.SessionHandle

	loginCalls     int
	loginPins      []string
	logoutCalls    int
	initTokenCalls int
	initPINs       []string
	setPINs        [][2]string
	seeded         []byte
}

func newMockedModule() *mockedModule {
	return &mockedModule{
		slotInfo:  make(map[uint]pkcs11.SlotInfo),
		tokenInfo: make(map[uint]pkcs11.TokenInfo),
	}
}

func (m *mockedModule) addSlot(id uint, info pkcs11.SlotInfo) {
	m.slotIDs = append(m.slotIDs, id)
	m.slotInfo[id] = info
}

func (m *mockedModule) addToken(id uint, info pkcs11.TokenInfo) {
	m.slotIDs = append(m.slotIDs, id)
	m.slotInfo[id] = pkcs11.SlotInfo{Flags: pkcs11.CKF_TOKEN_PRESENT}
	m.tokenInfo[id] = info
}

func (m *mockedModule) GetSlotList(tokenPresent bool) ([]uint, error) {
	return append([]uint{}, m.slotIDs...), nil
}

func (m *mockedModule) GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error) {
	return m.slotInfo[slotID], nil
}

func (m *mockedModule) GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error) {
	info, ok := m.tokenInfo[slotID]
	if !ok {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_TOKEN_NOT_PRESENT)
	}
	return info, nil
}

func (m *mockedModule) OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error) {
	m.next++
	return m.next, nil
}

func (m *mockedModule) CloseSession(sh pkcs11.SessionHandle) error { return nil }
func (m *mockedModule) CloseAllSessions(slotID uint) error         { return nil }

func (m *mockedModule) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	m.loginCalls++
	m.loginPins = append(m.loginPins, pin)
	return nil
}

func (m *mockedModule) Logout(sh pkcs11.SessionHandle) error {
	m.logoutCalls++
	return nil
}

func (m *mockedModule) InitToken(slotID uint, pin string, label string) error {
	m.initTokenCalls++
	return nil
}

func (m *mockedModule) InitPIN(sh pkcs11.SessionHandle, pin string) error {
	m.initPINs = append(m.initPINs, pin)
	return nil
}

func (m *mockedModule) SetPIN(sh pkcs11.SessionHandle, oldPin string, newPin string) error {
	m.setPINs = append(m.setPINs, [2]string{oldPin, newPin})
	return nil
}

func (m *mockedModule) SeedRandom(sh pkcs11.SessionHandle, seed []byte) error {
	m.seeded = append(m.seeded, seed...)
	return nil
}

func (m *mockedModule) GenerateRandom(sh pkcs11.SessionHandle, length int) ([]byte, error) {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf, nil
}

func (m *mockedModule) Finalize() error { return nil }
func (m *mockedModule) Destroy()        {}
