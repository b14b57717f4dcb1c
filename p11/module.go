package p11

import (
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// Module is the subset of the PKCS#11 function list this package calls.
// *pkcs11.Ctx implements it directly; tests substitute fakes.
type Module interface {
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	CloseAllSessions(slotID uint) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	InitToken(slotID uint, pin string, label string) error
	InitPIN(sh pkcs11.SessionHandle, pin string) error
	SetPIN(sh pkcs11.SessionHandle, oldPin string, newPin string) error
	SeedRandom(sh pkcs11.SessionHandle, seed []byte) error
	GenerateRandom(sh pkcs11.SessionHandle, length int) ([]byte, error)
	Finalize() error
	Destroy()
}

// Ensure compiles
var _ Module = (*pkcs11.Ctx)(nil)

// rvIs reports whether err carries the PKCS#11 status rv.
func rvIs(err error, rv uint) bool {
	var pe pkcs11.Error
	if errors.As(err, &pe) {
		return uint(pe) == rv
	}
	return false
}
