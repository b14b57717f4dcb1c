// Package p11 manages slots, tokens and sessions of a single loaded
// PKCS#11 module, such as a Hardware Security Module (HSM), a smart
// card, or a software token like SoftHSM.
//
// The package covers the slot/token lifecycle so that higher-level
// cryptographic callers do not have to deal with session concurrency,
// login state, or the backend's session capacity:
//   - Slot enumeration with atomic rollback on partial failure
//   - Idempotent token probing and re-probing per slot
//   - A per-slot blocking session pool that adapts to the session
//     capacity the backend reports at runtime
//   - Login/logout state tracking with PIN caching for transparent
//     re-authentication after a pool reset
//   - A "best token" selection heuristic over enumerated slots
//
// Backend access goes through the Module interface, implemented by
// *pkcs11.Ctx from github.com/miekg/pkcs11. Parsing of key and
// certificate objects living on a token is left to higher layers,
// which attach their caches to a Token via the ObjectCache interface.
package p11
