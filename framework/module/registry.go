package module

import (
	"fmt"
	"sync"

	"github.com/madkernel/server/framework/config"
	"github.com/madkernel/server/framework/log"
)

var (
	factories = make(map[string]FuncNewModule)
	modLock   sync.RWMutex
)

// Register adds a module factory to the global registry. Panics if name is
// already registered; call from an init() func, the same way every
// kernel module package does.
func Register(name string, factory FuncNewModule) {
	modLock.Lock()
	defer modLock.Unlock()

	if _, ok := factories[name]; ok {
		panic("module.Register: module already registered: " + name)
	}
	factories[name] = factory
}

// Get returns the factory registered under name, or nil.
func Get(name string) FuncNewModule {
	modLock.RLock()
	defer modLock.RUnlock()
	return factories[name]
}

type instance struct {
	mod Module
	cfg *config.Map
}

var (
	instances   = make(map[string]instance)
	initialized = make(map[string]bool)
	instLock    sync.Mutex
)

// RegisterInstance records a constructed-but-not-yet-initialized module
// instance under its InstanceName, to be lazily Init'd by GetInstance.
func RegisterInstance(mod Module, cfg *config.Map) {
	instLock.Lock()
	defer instLock.Unlock()
	instances[mod.InstanceName()] = instance{mod: mod, cfg: cfg}
}

// GetUninitedInstance returns the raw module instance without triggering
// initialization.
func GetUninitedInstance(name string) Module {
	instLock.Lock()
	defer instLock.Unlock()
	inst, ok := instances[name]
	if !ok {
		return nil
	}
	return inst.mod
}

// GetInstance returns the named module instance, initializing it on first
// access. Safe to call re-entrantly: a module whose Init references
// another instance that is, in turn, initializing will see the
// not-yet-finished instance rather than recurse forever.
func GetInstance(name string) (Module, error) {
	instLock.Lock()
	inst, ok := instances[name]
	if !ok {
		instLock.Unlock()
		return nil, fmt.Errorf("module: unknown instance: %s", name)
	}
	if initialized[name] {
		instLock.Unlock()
		return inst.mod, nil
	}
	initialized[name] = true
	instLock.Unlock()

	log.DefaultLogger.Debugf("module init: %s (%s)", name, inst.mod.Name())
	if err := inst.mod.Init(inst.cfg); err != nil {
		return inst.mod, err
	}
	return inst.mod, nil
}
