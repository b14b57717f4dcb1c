package p11

import (
	"sync"

	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// Loaded vendor modules are shared by library path, so two configs
// pointing at the same .so use one backend context. The last Context
// reference finalizes and unloads the module.
var (
	lockModules   sync.Mutex
	loadedModules = make(map[string]*sharedModule)
)

type sharedModule struct {
	ctx  *pkcs11.Ctx
	path string
	refs int
}

// Load opens the vendor module named by the config, initializes it,
// and returns a Context with slots enumerated. Close the Context to
// drop the module reference.
func Load(cfg TokenConfig) (*Context, error) {
	logger.KV(xlog.DEBUG,
		"manufacturer", cfg.Manufacturer(),
		"model", cfg.Model(),
		"serial", cfg.TokenSerial(),
		"label", cfg.TokenLabel())

	sm, err := acquireModule(cfg.Path())
	if err != nil {
		return nil, err
	}

	ctx := NewContext(sm.ctx)
	ctx.release = func() error {
		releaseModule(sm)
		return nil
	}

	if _, err := ctx.EnumerateSlots(); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return ctx, nil
}

func acquireModule(path string) (*sharedModule, error) {
	if path == "" {
		return nil, errors.New("missing PKCS#11 module path")
	}

	lockModules.Lock()
	defer lockModules.Unlock()

	if sm, ok := loadedModules[path]; ok {
		sm.refs++
		return sm, nil
	}

	lib := pkcs11.New(path)
	if lib == nil {
		return nil, errors.Errorf("unable to load PKCS#11 module: %s", path)
	}
	err := lib.Initialize()
	if err != nil && !rvIs(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		lib.Destroy()
		return nil, errors.WithMessagef(err, "initialize PKCS#11 module: %s", path)
	}

	logger.KV(xlog.INFO, "loaded", path)
	sm := &sharedModule{ctx: lib, path: path, refs: 1}
	loadedModules[path] = sm
	return sm, nil
}

func releaseModule(sm *sharedModule) {
	lockModules.Lock()
	defer lockModules.Unlock()

	sm.refs--
	if sm.refs > 0 {
		return
	}
	delete(loadedModules, sm.path)

	if err := sm.ctx.Finalize(); err != nil {
		logger.KV(xlog.WARNING, "reason", "Finalize", "path", sm.path, "err", err.Error())
	}
	sm.ctx.Destroy()
	logger.KV(xlog.INFO, "unloaded", sm.path)
}
