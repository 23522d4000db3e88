package compute

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/binding"
	"github.com/gogpu/compute/internal/preprocess"
)

// spirvExt marks precompiled shader files.
const spirvExt = ".spv"

// ComputeShader loads one compute shader, binds resources to it and
// dispatches it.
//
// The lifecycle is: New, register uniforms, FinishCreateUniforms, then
// Compute as many times as needed, then Close. Registering another uniform
// after FinishCreateUniforms requires calling it again before the next
// Compute.
//
// A ComputeShader serializes its own operations with a mutex, so it may be
// shared between goroutines, but dispatches never overlap.
type ComputeShader struct {
	mu sync.Mutex

	device gpucore.Device
	// ownsDevice is true when the device was opened by New, in which case
	// Close destroys it. Borrowed devices are never destroyed.
	ownsDevice bool

	label    string
	shader   gpucore.Handle
	pipeline gpucore.Handle

	initialized bool
	closed      bool

	uniforms  *binding.Table
	resources binding.Registry
}

// New loads the shader at shaderPath, compiles it and creates its compute
// pipeline.
//
// New always returns a non-nil ComputeShader. If any step fails, the error
// wraps one of ErrDeviceUnavailable, ErrShaderLoad, ErrShaderCompile or
// ErrPipelineCreation, and the returned shader stays uninitialized: every
// later operation fails with ErrNotReady and issues no device calls.
//
// Paths ending in ".spv" are loaded as precompiled SPIR-V. Any other path is
// read as WGSL text: a leading "#[compute]" marker is stripped, #include
// directives are expanded and WithArgs lines are injected.
func New(shaderPath string, opts ...Option) (*ComputeShader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cs := &ComputeShader{
		label:    o.label,
		uniforms: binding.NewTable(),
	}
	if cs.label == "" {
		cs.label = path.Base(filepath.ToSlash(shaderPath))
	}

	if err := cs.init(shaderPath, &o); err != nil {
		slogger().Error("compute: shader initialization failed", "shader", shaderPath, "err", err)
		return cs, err
	}
	slogger().Debug("compute: shader ready", "shader", cs.label, "owns_device", cs.ownsDevice)
	return cs, nil
}

func (cs *ComputeShader) init(shaderPath string, o *options) error {
	dev := o.device
	if dev == nil {
		d, err := OpenDevice()
		if err != nil {
			return err
		}
		dev = d
		cs.ownsDevice = true
	}
	cs.device = dev

	src, err := loadSource(shaderPath, o)
	if err != nil {
		cs.releaseOwnedDevice()
		return fmt.Errorf("%w: %w", ErrShaderLoad, err)
	}

	spirv, err := dev.CompileSPIRVFromSource(src)
	if err != nil {
		cs.releaseOwnedDevice()
		return fmt.Errorf("%w: %s: %w", ErrShaderCompile, shaderPath, err)
	}

	shader, err := dev.CreateShaderFromSPIRV(spirv, cs.label)
	if err != nil {
		cs.releaseOwnedDevice()
		return fmt.Errorf("%w: %s: create shader: %w", ErrShaderCompile, shaderPath, err)
	}

	pipeline, err := dev.CreateComputePipeline(shader, o.entryPoint)
	if err != nil {
		dev.Free(shader)
		cs.releaseOwnedDevice()
		return fmt.Errorf("%w: %s: %w", ErrPipelineCreation, shaderPath, err)
	}

	cs.shader = shader
	cs.pipeline = pipeline
	cs.initialized = true
	return nil
}

// releaseOwnedDevice drops the device after a failed New. A borrowed
// device is kept so Device still reports it.
func (cs *ComputeShader) releaseOwnedDevice() {
	if cs.ownsDevice {
		if err := cs.device.Destroy(); err != nil {
			slogger().Warn("compute: destroy device after failed init", "shader", cs.label, "err", err)
		}
		cs.device = nil
		cs.ownsDevice = false
	}
}

// loadSource reads and preprocesses the shader at shaderPath.
func loadSource(shaderPath string, o *options) (*gpucore.ShaderSource, error) {
	fsys, name, err := shaderFS(shaderPath, o.fsys)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(path.Ext(name), spirvExt) {
		if len(o.args) > 0 {
			slogger().Warn("compute: arguments ignored for precompiled shader", "shader", shaderPath)
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", preprocess.ErrShaderRead, shaderPath, err)
		}
		return &gpucore.ShaderSource{Name: name, Language: gpucore.LanguageSPIRV, Code: string(data)}, nil
	}

	return preprocess.Source(fsys, name, o.args)
}

// shaderFS returns the filesystem and slash-separated name for shaderPath.
// Without an explicit filesystem the path is resolved on the host, rooted
// at its volume so includes may climb above the shader's directory.
func shaderFS(shaderPath string, fsys fs.FS) (fs.FS, string, error) {
	if fsys != nil {
		return fsys, path.Clean(filepath.ToSlash(shaderPath)), nil
	}
	abs, err := filepath.Abs(shaderPath)
	if err != nil {
		return nil, "", err
	}
	root := filepath.VolumeName(abs) + string(filepath.Separator)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, "", err
	}
	return os.DirFS(root), filepath.ToSlash(rel), nil
}

// Device returns the device context the shader runs on, or nil if none
// could be obtained. Ownership is not transferred.
func (cs *ComputeShader) Device() gpucore.Device {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.device
}

// Label returns the debug label of the shader.
func (cs *ComputeShader) Label() string { return cs.label }

// FinishCreateUniforms builds the device uniform sets for every registered
// set index. It does nothing when the sets are already up to date. Sets
// built by an earlier call are released once their replacements exist.
func (cs *ComputeShader) FinishCreateUniforms() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return err
	}
	if cs.uniforms.Ready() {
		return nil
	}

	sets, err := cs.uniforms.Freeze(func(set uint32, uniforms []gpucore.Uniform) (gpucore.Handle, error) {
		return cs.device.CreateUniformSet(uniforms, cs.shader, set)
	}, cs.device.Free)
	if err != nil {
		slogger().Error("compute: finalizing uniforms failed", "shader", cs.label, "err", err)
		return fmt.Errorf("%w: %w", ErrUniformSet, err)
	}
	slogger().Debug("compute: uniforms finalized", "shader", cs.label, "sets", len(sets), "uniforms", cs.uniforms.Len())
	return nil
}

// CheckReady reports whether Compute can dispatch: a device context is
// present, initialization succeeded and FinishCreateUniforms has run
// since the last registration. Each unmet condition is logged.
func (cs *ComputeShader) CheckReady() bool {
	return cs.Ready() == nil
}

// Ready is CheckReady returning the reason as an error wrapping ErrNotReady.
func (cs *ComputeShader) Ready() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.readyLocked()
}

func (cs *ComputeShader) readyLocked() error {
	if err := cs.usableLocked(); err != nil {
		return err
	}
	if !cs.uniforms.Ready() {
		return cs.notReady("call FinishCreateUniforms after registering all uniforms")
	}
	return nil
}

// usableLocked checks the conditions for registering resources.
func (cs *ComputeShader) usableLocked() error {
	switch {
	case cs.device == nil:
		return cs.notReady("no device context")
	case !cs.initialized:
		return cs.notReady("shader not initialized, fix previous errors")
	}
	return nil
}

func (cs *ComputeShader) notReady(reason string) error {
	slogger().Error("compute: not ready", "shader", cs.label, "reason", reason)
	return fmt.Errorf("%w: %s", ErrNotReady, reason)
}

// Compute dispatches the shader with the given workgroup counts and blocks
// until the GPU has finished.
//
// When the shader is not ready, Compute logs why, returns an error wrapping
// ErrNotReady and makes no device calls. Otherwise it binds the pipeline
// and every uniform set in ascending set order, dispatches, submits and
// waits for completion.
func (cs *ComputeShader) Compute(x, y, z uint32) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.readyLocked(); err != nil {
		return err
	}
	if x == 0 || y == 0 || z == 0 {
		return fmt.Errorf("%w: (%d, %d, %d)", ErrInvalidGroups, x, y, z)
	}

	list, err := cs.device.BeginComputeList()
	if err != nil {
		return fmt.Errorf("%w: begin compute list: %w", ErrDispatch, err)
	}
	list.BindPipeline(cs.pipeline)
	for _, set := range cs.uniforms.Sets() {
		h, _ := cs.uniforms.Finalized(set)
		list.BindUniformSet(h, set)
	}
	list.Dispatch(x, y, z)
	if err := list.End(); err != nil {
		return fmt.Errorf("%w: end compute list: %w", ErrDispatch, err)
	}

	if err := cs.device.Submit(); err != nil {
		return fmt.Errorf("%w: submit: %w", ErrDispatch, err)
	}
	if err := cs.device.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrDispatch, err)
	}

	slogger().Debug("compute: dispatched", "shader", cs.label, "x", x, "y", y, "z", z)
	return nil
}

// Close releases the shader, the pipeline, the uniform sets and every
// resource created through this shader, then destroys the device if New
// opened it. Buffers added with AddExistingBuffer and borrowed devices are
// left alone.
//
// The error reports a device that did not tear down cleanly, for example
// because submitted work never completed; every resource is released
// regardless. Calling Close again returns nil.
func (cs *ComputeShader) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return nil
	}
	cs.closed = true
	cs.initialized = false

	if cs.device == nil {
		return nil
	}

	if cs.shader.IsValid() {
		cs.device.Free(cs.shader)
		cs.shader = gpucore.InvalidHandle
	}
	if cs.pipeline.IsValid() {
		cs.device.Free(cs.pipeline)
		cs.pipeline = gpucore.InvalidHandle
	}
	cs.uniforms.Reset(cs.device.Free)
	n := cs.resources.ReleaseAll(cs.device.Free)

	var err error
	if cs.ownsDevice {
		if derr := cs.device.Destroy(); derr != nil {
			err = fmt.Errorf("compute: destroy device: %w", derr)
		}
	}
	cs.device = nil

	slogger().Debug("compute: shader closed", "shader", cs.label, "released", n)
	return err
}
