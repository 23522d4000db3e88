//go:build !nogpu

// Package native implements gpucore.Device directly on the gogpu/wgpu HAL.
//
// A Device either opens its own Vulkan instance (Open) or borrows a device
// and queue owned by the host application (NewFromHAL, FromProvider).
// Borrowed devices are never destroyed by this package.
//
// Importing the package registers a "vulkan" device factory with the
// compute package:
//
//	import _ "github.com/gogpu/compute/backend/native"
package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register Vulkan HAL backend

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/shaderc"
)

// compiler is shared by every Device so identical sources compile once.
var compiler = shaderc.NewCompiler(shaderc.DefaultCacheSize)

func init() {
	compute.RegisterDeviceFactory("vulkan", func() (gpucore.Device, error) {
		return Open()
	})
}

// Device implements gpucore.Device using gogpu/wgpu/hal.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
// All resource operations are serialized by a mutex.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// external is true when device and queue are borrowed.
	external  bool
	destroyed bool

	adapterName string
	cfg         config

	// ID generation. Handles start at 1 and are never reused.
	nextID atomic.Uint64

	shaders     map[gpucore.Handle]*shaderEntry
	pipelines   map[gpucore.Handle]*pipelineEntry
	buffers     map[gpucore.Handle]*bufferEntry
	textures    map[gpucore.Handle]*textureEntry
	samplers    map[gpucore.Handle]hal.Sampler
	uniformSets map[gpucore.Handle]*uniformSetEntry

	cache *pipelineCache
	// emptyLayout fills set indices no uniform set is bound to.
	emptyLayout hal.BindGroupLayout

	// pending is the most recently ended list, waiting for Submit.
	pending  hal.CommandBuffer
	inflight []submission
}

type submission struct {
	fence hal.Fence
	cmd   hal.CommandBuffer
}

type shaderEntry struct {
	module hal.ShaderModule
	label  string
	// refs counts pipelines created from the module. A freed module is
	// destroyed once the last pipeline is gone.
	refs  int
	freed bool
}

type pipelineEntry struct {
	shader     *shaderEntry
	entryPoint string
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a HAL instance, selects an adapter and opens a device on it.
// The returned Device owns all three and releases them in Destroy.
func Open(opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	backend, ok := hal.GetBackend(cfg.backend)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, cfg.backend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	kinds := make([]gputypes.DeviceType, len(adapters))
	for i := range adapters {
		kinds[i] = adapters[i].Info.DeviceType
	}
	selected := &adapters[pickAdapter(kinds, cfg.power)]

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue, cfg)
	d.instance = instance
	d.adapterName = selected.Info.Name
	compute.Logger().Info("native: GPU device opened", "adapter", selected.Info.Name)
	return d, nil
}

// pickAdapter returns the index of the preferred adapter among kinds.
// Hardware adapters of the preferred class come first, then the other
// hardware class, then whatever was enumerated first.
func pickAdapter(kinds []gputypes.DeviceType, p PowerPreference) int {
	order := []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU}
	if p == PreferLowPower {
		order[0], order[1] = order[1], order[0]
	}
	for _, want := range order {
		for i, k := range kinds {
			if k == want {
				return i
			}
		}
	}
	return 0
}

// NewFromHAL wraps a device and queue owned by the caller. Destroy releases
// the resources created through the Device but leaves device and queue alive.
func NewFromHAL(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("native: nil HAL device or queue")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	d := newDevice(device, queue, cfg)
	d.external = true
	compute.Logger().Debug("native: using borrowed HAL device")
	return d, nil
}

// FromProvider borrows the device of a gpucontext.DeviceProvider, such as a
// gogpu application. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	return NewFromHAL(device, queue, opts...)
}

func newDevice(device hal.Device, queue hal.Queue, cfg config) *Device {
	d := &Device{
		device:      device,
		queue:       queue,
		cfg:         cfg,
		shaders:     make(map[gpucore.Handle]*shaderEntry),
		pipelines:   make(map[gpucore.Handle]*pipelineEntry),
		buffers:     make(map[gpucore.Handle]*bufferEntry),
		textures:    make(map[gpucore.Handle]*textureEntry),
		samplers:    make(map[gpucore.Handle]hal.Sampler),
		uniformSets: make(map[gpucore.Handle]*uniformSetEntry),
	}
	d.cache = newPipelineCache(device, cfg.cacheSize)
	d.nextID.Store(1)
	return d
}

// newHandle generates a unique resource handle.
func (d *Device) newHandle() gpucore.Handle {
	return gpucore.Handle(d.nextID.Add(1) - 1)
}

// AdapterName returns the name of the adapter opened by Open, or "" for
// borrowed devices.
func (d *Device) AdapterName() string { return d.adapterName }

// Borrowed reports whether the HAL device belongs to someone else.
func (d *Device) Borrowed() bool { return d.external }

// === Shaders and pipelines ===

// CompileSPIRVFromSource compiles WGSL with naga. Precompiled SPIR-V is
// decoded as is.
func (d *Device) CompileSPIRVFromSource(src *gpucore.ShaderSource) ([]uint32, error) {
	return compiler.Compile(src)
}

// CreateShaderFromSPIRV creates a shader module from SPIR-V words.
func (d *Device) CreateShaderFromSPIRV(spirv []uint32, label string) (gpucore.Handle, error) {
	if len(spirv) == 0 {
		return gpucore.InvalidHandle, errors.New("native: empty SPIR-V bytecode")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("native: create shader module: %w", err)
	}

	h := d.newHandle()
	d.shaders[h] = &shaderEntry{module: module, label: label}
	return h, nil
}

// CreateComputePipeline registers a pipeline for shader and entryPoint.
//
// The HAL pipeline depends on the layouts of the uniform sets bound with
// it, so it is built on first use by a compute list and cached per layout.
func (d *Device) CreateComputePipeline(shader gpucore.Handle, entryPoint string) (gpucore.Handle, error) {
	if entryPoint == "" {
		return gpucore.InvalidHandle, errors.New("native: empty entry point")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}

	s, ok := d.shaders[shader]
	if !ok {
		return gpucore.InvalidHandle, fmt.Errorf("%w: shader %d", ErrUnknownHandle, shader)
	}
	s.refs++

	h := d.newHandle()
	d.pipelines[h] = &pipelineEntry{shader: s, entryPoint: entryPoint}
	return h, nil
}

// === Execution ===

// BeginComputeList starts recording. Commands are encoded when the list ends.
func (d *Device) BeginComputeList() (gpucore.ComputeList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return &computeList{d: d}, nil
}

// Submit sends the most recently ended list to the queue.
func (d *Device) Submit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	if d.pending == nil {
		return ErrNothingToSubmit
	}

	cmd := d.pending
	d.pending = nil

	fence, err := d.device.CreateFence()
	if err != nil {
		d.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("native: create fence: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		d.device.DestroyFence(fence)
		d.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("native: submit: %w", err)
	}
	d.inflight = append(d.inflight, submission{fence: fence, cmd: cmd})
	return nil
}

// Sync waits for every submitted list to complete.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	return d.waitInflightLocked()
}

func (d *Device) waitInflightLocked() error {
	var errs []error
	for _, s := range d.inflight {
		ok, err := d.device.Wait(s.fence, 1, d.cfg.fenceTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("native: wait for fence: %w", err))
		case !ok:
			errs = append(errs, fmt.Errorf("%w after %v", ErrFenceTimeout, d.cfg.fenceTimeout))
		}
		d.device.DestroyFence(s.fence)
		d.device.FreeCommandBuffer(s.cmd)
	}
	d.inflight = d.inflight[:0]
	d.cache.destroyRetired()
	return errors.Join(errs...)
}

// submitAndWaitLocked runs one command buffer to completion. It is used by
// readbacks, which need the result before returning.
func (d *Device) submitAndWaitLocked(cmd hal.CommandBuffer) error {
	defer d.device.FreeCommandBuffer(cmd)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, d.cfg.fenceTimeout)
	if err != nil {
		return fmt.Errorf("native: wait for fence: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v", ErrFenceTimeout, d.cfg.fenceTimeout)
	}
	return nil
}

// === Lifetime ===

// Free releases a resource. Invalid, unknown or already freed handles are
// ignored.
func (d *Device) Free(h gpucore.Handle) {
	if !h.IsValid() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}

	if b, ok := d.buffers[h]; ok {
		delete(d.buffers, h)
		d.device.DestroyBuffer(b.buf)
		return
	}
	if t, ok := d.textures[h]; ok {
		delete(d.textures, h)
		d.destroyTexture(t)
		return
	}
	if s, ok := d.samplers[h]; ok {
		delete(d.samplers, h)
		d.device.DestroySampler(s)
		return
	}
	if us, ok := d.uniformSets[h]; ok {
		delete(d.uniformSets, h)
		d.destroyUniformSet(us)
		return
	}
	if p, ok := d.pipelines[h]; ok {
		delete(d.pipelines, h)
		d.cache.removePipeline(h)
		p.shader.refs--
		d.releaseShader(p.shader)
		return
	}
	if s, ok := d.shaders[h]; ok {
		delete(d.shaders, h)
		s.freed = true
		d.releaseShader(s)
		return
	}
}

// releaseShader destroys the module of s once it has been freed and no
// pipeline references it.
func (d *Device) releaseShader(s *shaderEntry) {
	if s.freed && s.refs == 0 && s.module != nil {
		d.device.DestroyShaderModule(s.module)
		s.module = nil
	}
}

// Destroy waits for submitted work, releases every resource created through
// the Device and, unless borrowed, the HAL device and instance. It returns
// the error of any submission that did not complete; everything is released
// regardless. Destroying twice is a no-op.
func (d *Device) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil
	}

	waitErr := d.waitInflightLocked()
	if waitErr != nil {
		compute.Logger().Warn("native: pending work did not complete before destroy", "err", waitErr)
	}
	if d.pending != nil {
		d.device.FreeCommandBuffer(d.pending)
		d.pending = nil
	}
	d.destroyed = true

	d.cache.purge()
	d.cache.destroyRetired()

	for h, us := range d.uniformSets {
		delete(d.uniformSets, h)
		d.destroyUniformSet(us)
	}
	for h, b := range d.buffers {
		delete(d.buffers, h)
		d.device.DestroyBuffer(b.buf)
	}
	for h, t := range d.textures {
		delete(d.textures, h)
		d.destroyTexture(t)
	}
	for h, s := range d.samplers {
		delete(d.samplers, h)
		d.device.DestroySampler(s)
	}
	for h, p := range d.pipelines {
		delete(d.pipelines, h)
		p.shader.refs--
		d.releaseShader(p.shader)
	}
	for h, s := range d.shaders {
		delete(d.shaders, h)
		s.freed = true
		d.releaseShader(s)
	}
	if d.emptyLayout != nil {
		d.device.DestroyBindGroupLayout(d.emptyLayout)
		d.emptyLayout = nil
	}

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	return waitErr
}
