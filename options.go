package compute

import (
	"io/fs"

	"github.com/gogpu/compute/gpucore"
)

// DefaultEntryPoint is the compute entry point used unless WithEntryPoint is given.
const DefaultEntryPoint = "main"

// Option configures a ComputeShader during creation.
//
// Example:
//
//	// Own a device from the registered backend
//	cs, err := compute.New("shaders/blur.wgsl")
//
//	// Share the host application's device
//	cs, err := compute.New("shaders/blur.wgsl", compute.WithDevice(dev))
type Option func(*options)

// options holds optional configuration for ComputeShader creation.
type options struct {
	device     gpucore.Device
	args       []string
	fsys       fs.FS
	entryPoint string
	label      string
}

// defaultOptions returns the default shader options.
func defaultOptions() options {
	return options{
		entryPoint: DefaultEntryPoint,
	}
}

// WithDevice runs the shader on an existing device. The device is borrowed:
// Close never destroys it.
func WithDevice(d gpucore.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithArgs injects each argument as a line after the #version directive,
// or at the start of the source when there is none. WGSL sources can use
// this for module-scope constants:
//
//	compute.WithArgs("const WORKGROUP: u32 = 64u;")
//
// Arguments are ignored for precompiled .spv shaders.
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = append(o.args, args...)
	}
}

// WithFS resolves the shader path and its includes in fsys instead of the
// host filesystem. Paths are slash-separated and relative to the root of fsys.
func WithFS(fsys fs.FS) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithEntryPoint selects the compute entry point. The default is "main".
func WithEntryPoint(name string) Option {
	return func(o *options) {
		if name != "" {
			o.entryPoint = name
		}
	}
}

// WithLabel sets the debug label given to device objects. The default is
// the base name of the shader path.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}
