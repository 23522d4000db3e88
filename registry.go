package compute

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/compute/gpucore"
)

// DeviceFactory opens a new device context. The caller owns the result.
type DeviceFactory func() (gpucore.Device, error)

// registry holds registered device factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]DeviceFactory)
	// Registration order; the first factory that succeeds wins.
	factoryOrder []string
)

// RegisterDeviceFactory registers a device factory with the given name.
// This is typically called from init() functions in backend packages:
//
//	import _ "github.com/gogpu/compute/backend/native" // registers "vulkan"
//
// If a factory with the same name is already registered, it is replaced
// and keeps its position.
func RegisterDeviceFactory(name string, factory DeviceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := factories[name]; !ok {
		factoryOrder = append(factoryOrder, name)
	}
	factories[name] = factory
}

// UnregisterDeviceFactory removes a factory from the registry.
// This is useful for testing.
func UnregisterDeviceFactory(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
	factoryOrder = slices.DeleteFunc(factoryOrder, func(n string) bool { return n == name })
}

// DeviceFactories returns the registered factory names in registration order.
func DeviceFactories() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Clone(factoryOrder)
}

// OpenDevice opens a device from the first registered factory that
// succeeds. It returns ErrDeviceUnavailable when none is registered or
// every factory fails.
func OpenDevice() (gpucore.Device, error) {
	registryMu.RLock()
	names := slices.Clone(factoryOrder)
	fns := make([]DeviceFactory, len(names))
	for i, n := range names {
		fns[i] = factories[n]
	}
	registryMu.RUnlock()

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no device factory registered", ErrDeviceUnavailable)
	}

	var errs []error
	for i, f := range fns {
		dev, err := f()
		if err == nil && dev != nil {
			slogger().Debug("compute: opened device", "backend", names[i])
			return dev, nil
		}
		if err == nil {
			err = errors.New("factory returned no device")
		}
		slogger().Warn("compute: device factory failed", "backend", names[i], "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
	}
	return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, errors.Join(errs...))
}
