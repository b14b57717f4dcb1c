package p11

import (
	"sync"

	"github.com/miekg/pkcs11"
)

// ObjectCache holds key and certificate objects discovered on a token.
// Object parsing is out of this package's hands; higher layers attach
// their caches to a Token and this package guarantees they are
// invalidated before the token is re-probed, logged out, or released.
//
// Each method must be safe to call on an already-empty cache and must
// leave the cache ready for a fresh probe.
type ObjectCache interface {
	InvalidatePrivateKeys()
	InvalidatePublicKeys()
	InvalidateCertificates()
}

// HandleCache is a minimal ObjectCache keeping raw object handles. It
// is attached to every freshly probed Token; callers with richer
// object models substitute their own cache via Token.SetCache.
type HandleCache struct {
	mu    sync.Mutex
	priv  []pkcs11.ObjectHandle
	pub   []pkcs11.ObjectHandle
	certs []pkcs11.ObjectHandle
}

// NewHandleCache returns an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{}
}

// AddPrivateKey records a private key handle.
func (h *HandleCache) AddPrivateKey(obj pkcs11.ObjectHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.priv = append(h.priv, obj)
}

// AddPublicKey records a public key handle.
func (h *HandleCache) AddPublicKey(obj pkcs11.ObjectHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pub = append(h.pub, obj)
}

// AddCertificate records a certificate handle.
func (h *HandleCache) AddCertificate(obj pkcs11.ObjectHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.certs = append(h.certs, obj)
}

// PrivateKeys returns the cached private key handles.
func (h *HandleCache) PrivateKeys() []pkcs11.ObjectHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pkcs11.ObjectHandle{}, h.priv...)
}

// PublicKeys returns the cached public key handles.
func (h *HandleCache) PublicKeys() []pkcs11.ObjectHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pkcs11.ObjectHandle{}, h.pub...)
}

// Certificates returns the cached certificate handles.
func (h *HandleCache) Certificates() []pkcs11.ObjectHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pkcs11.ObjectHandle{}, h.certs...)
}

// InvalidatePrivateKeys drops all cached private key handles.
func (h *HandleCache) InvalidatePrivateKeys() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.priv = nil
}

// InvalidatePublicKeys drops all cached public key handles.
func (h *HandleCache) InvalidatePublicKeys() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pub = nil
}

// InvalidateCertificates drops all cached certificate handles.
func (h *HandleCache) InvalidateCertificates() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.certs = nil
}
