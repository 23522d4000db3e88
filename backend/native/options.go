//go:build !nogpu

package native

import (
	"time"

	"github.com/gogpu/gputypes"
)

// DefaultFenceTimeout bounds every wait on submitted work.
const DefaultFenceTimeout = 5 * time.Second

// DefaultPipelineCacheSize is the number of pipeline variants kept per device.
const DefaultPipelineCacheSize = 16

// PowerPreference selects which adapter Open prefers.
type PowerPreference uint8

// Power preferences.
const (
	// PreferHighPerformance picks a discrete GPU first.
	PreferHighPerformance PowerPreference = iota
	// PreferLowPower picks an integrated GPU first.
	PreferLowPower
)

type config struct {
	backend      gputypes.Backend
	power        PowerPreference
	fenceTimeout time.Duration
	cacheSize    int
}

func defaultConfig() config {
	return config{
		backend:      gputypes.BackendVulkan,
		power:        PreferHighPerformance,
		fenceTimeout: DefaultFenceTimeout,
		cacheSize:    DefaultPipelineCacheSize,
	}
}

// Option configures a Device.
type Option func(*config)

// WithBackend selects the HAL backend Open creates an instance from.
func WithBackend(b gputypes.Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithPowerPreference selects the adapter class Open prefers.
func WithPowerPreference(p PowerPreference) Option {
	return func(c *config) { c.power = p }
}

// WithFenceTimeout sets how long Sync and readbacks wait for the GPU.
// Non-positive values keep the default.
func WithFenceTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.fenceTimeout = d
		}
	}
}

// WithPipelineCacheSize sets how many pipeline variants are kept.
func WithPipelineCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}
