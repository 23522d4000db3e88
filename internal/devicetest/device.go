// Package devicetest provides an in-memory gpucore.Device for tests.
//
// The device keeps buffer and texture contents in host memory, records
// every verb it receives and runs an optional Go kernel on Submit, so
// dispatch results can be checked without a GPU.
package devicetest

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/compute/gpucore"
)

// ErrUnknownHandle is returned for handles the device never created or
// has already freed.
var ErrUnknownHandle = errors.New("devicetest: unknown handle")

// Kind classifies a resource held by the device.
type Kind uint8

// Resource kinds.
const (
	KindShader Kind = iota + 1
	KindPipeline
	KindBuffer
	KindTexture
	KindSampler
	KindUniformSet
)

// Dispatch is one recorded compute dispatch.
type Dispatch struct {
	Pipeline gpucore.Handle
	Sets     map[uint32]gpucore.Handle
	Groups   [3]uint32
}

// KernelFunc emulates a compute shader. It runs on Submit with the
// dispatch being executed and may read and write device buffers.
type KernelFunc func(d *Device, call Dispatch) error

type resource struct {
	kind     Kind
	label    string
	data     []byte
	layers   [][]byte
	format   gpucore.TextureFormatDesc
	uniforms []gpucore.Uniform
	set      uint32
}

// Device is an in-memory gpucore.Device. The zero value is not usable;
// call New.
type Device struct {
	mu sync.Mutex

	// Kernel runs for each submitted dispatch.
	Kernel KernelFunc

	// FailOn makes the named verb return the given error.
	FailOn map[string]error

	next       gpucore.Handle
	resources  map[gpucore.Handle]*resource
	calls      []string
	freed      []gpucore.Handle
	pending    []Dispatch
	dispatches []Dispatch
	destroyed  bool
	sources    []gpucore.ShaderSource
}

var _ gpucore.Device = (*Device)(nil)

// New creates an empty device.
func New() *Device {
	return &Device{
		FailOn:    make(map[string]error),
		resources: make(map[gpucore.Handle]*resource),
	}
}

func (d *Device) record(verb string) error {
	d.calls = append(d.calls, verb)
	return d.FailOn[verb]
}

func (d *Device) add(r *resource) gpucore.Handle {
	d.next++
	d.resources[d.next] = r
	return d.next
}

func (d *Device) get(h gpucore.Handle, kind Kind) (*resource, error) {
	r, ok := d.resources[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if r.kind != kind {
		return nil, fmt.Errorf("devicetest: handle %d has kind %d, want %d", h, r.kind, kind)
	}
	return r, nil
}

// CompileSPIRVFromSource records the source and returns a stub module.
func (d *Device) CompileSPIRVFromSource(src *gpucore.ShaderSource) ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CompileSPIRVFromSource"); err != nil {
		return nil, err
	}
	d.sources = append(d.sources, *src)
	return []uint32{0x07230203, uint32(len(src.Code))}, nil
}

// CreateShaderFromSPIRV implements gpucore.Device.
func (d *Device) CreateShaderFromSPIRV(spirv []uint32, label string) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateShaderFromSPIRV"); err != nil {
		return gpucore.InvalidHandle, err
	}
	if len(spirv) == 0 {
		return gpucore.InvalidHandle, errors.New("devicetest: empty SPIR-V")
	}
	return d.add(&resource{kind: KindShader, label: label}), nil
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(shader gpucore.Handle, entryPoint string) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateComputePipeline"); err != nil {
		return gpucore.InvalidHandle, err
	}
	s, err := d.get(shader, KindShader)
	if err != nil {
		return gpucore.InvalidHandle, err
	}
	return d.add(&resource{kind: KindPipeline, label: s.label + ":" + entryPoint}), nil
}

// CreateStorageBuffer implements gpucore.Device.
func (d *Device) CreateStorageBuffer(data []byte) (gpucore.Handle, error) {
	return d.createBuffer("CreateStorageBuffer", data)
}

// CreateUniformBuffer implements gpucore.Device.
func (d *Device) CreateUniformBuffer(data []byte) (gpucore.Handle, error) {
	return d.createBuffer("CreateUniformBuffer", data)
}

func (d *Device) createBuffer(verb string, data []byte) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(verb); err != nil {
		return gpucore.InvalidHandle, err
	}
	if len(data) == 0 {
		return gpucore.InvalidHandle, errors.New("devicetest: zero-sized buffer")
	}
	return d.add(&resource{kind: KindBuffer, data: slices.Clone(data)}), nil
}

// UpdateBuffer implements gpucore.Device.
func (d *Device) UpdateBuffer(buf gpucore.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("UpdateBuffer"); err != nil {
		return err
	}
	r, err := d.get(buf, KindBuffer)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(r.data)) {
		return fmt.Errorf("devicetest: write of %d bytes at %d overflows %d-byte buffer", len(data), offset, len(r.data))
	}
	copy(r.data[offset:], data)
	return nil
}

// BufferData implements gpucore.Device.
func (d *Device) BufferData(buf gpucore.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("BufferData"); err != nil {
		return nil, err
	}
	r, err := d.get(buf, KindBuffer)
	if err != nil {
		return nil, err
	}
	return slices.Clone(r.data), nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(format *gpucore.TextureFormatDesc, _ *gpucore.TextureView, layers [][]byte) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateTexture"); err != nil {
		return gpucore.InvalidHandle, err
	}
	if uint32(len(layers)) != max(format.ArrayLayers, 1) {
		return gpucore.InvalidHandle, fmt.Errorf("devicetest: %d layers for a %d-layer texture", len(layers), format.ArrayLayers)
	}
	r := &resource{kind: KindTexture, format: *format}
	for i, l := range layers {
		if len(l) != format.LayerSize() {
			return gpucore.InvalidHandle, fmt.Errorf("devicetest: layer %d has %d bytes, want %d", i, len(l), format.LayerSize())
		}
		r.layers = append(r.layers, slices.Clone(l))
	}
	return d.add(r), nil
}

// TextureLayerData implements gpucore.Device.
func (d *Device) TextureLayerData(tex gpucore.Handle, layer uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("TextureLayerData"); err != nil {
		return nil, err
	}
	r, err := d.get(tex, KindTexture)
	if err != nil {
		return nil, err
	}
	if int(layer) >= len(r.layers) {
		return nil, fmt.Errorf("devicetest: layer %d out of range [0,%d)", layer, len(r.layers))
	}
	return slices.Clone(r.layers[layer]), nil
}

// CreateSampler implements gpucore.Device.
func (d *Device) CreateSampler(*gpucore.SamplerState) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateSampler"); err != nil {
		return gpucore.InvalidHandle, err
	}
	return d.add(&resource{kind: KindSampler}), nil
}

// CreateUniformSet implements gpucore.Device.
func (d *Device) CreateUniformSet(uniforms []gpucore.Uniform, shader gpucore.Handle, set uint32) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CreateUniformSet"); err != nil {
		return gpucore.InvalidHandle, err
	}
	if _, err := d.get(shader, KindShader); err != nil {
		return gpucore.InvalidHandle, err
	}
	for _, u := range uniforms {
		for _, id := range u.IDs {
			if _, ok := d.resources[id]; !ok {
				return gpucore.InvalidHandle, fmt.Errorf("%w: %d in binding %d", ErrUnknownHandle, id, u.Binding)
			}
		}
	}
	return d.add(&resource{kind: KindUniformSet, uniforms: slices.Clone(uniforms), set: set}), nil
}

// BeginComputeList implements gpucore.Device.
func (d *Device) BeginComputeList() (gpucore.ComputeList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("BeginComputeList"); err != nil {
		return nil, err
	}
	return &computeList{dev: d, sets: make(map[uint32]gpucore.Handle)}, nil
}

// Submit runs the kernel for every dispatch ended since the last Submit.
func (d *Device) Submit() error {
	d.mu.Lock()
	if err := d.record("Submit"); err != nil {
		d.mu.Unlock()
		return err
	}
	pending := d.pending
	d.pending = nil
	d.dispatches = append(d.dispatches, pending...)
	kernel := d.Kernel
	d.mu.Unlock()

	if kernel == nil {
		return nil
	}
	for _, call := range pending {
		if err := kernel(d, call); err != nil {
			return err
		}
	}
	return nil
}

// Sync implements gpucore.Device.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("Sync")
}

// Free implements gpucore.Device.
func (d *Device) Free(h gpucore.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "Free")
	if _, ok := d.resources[h]; !ok {
		return
	}
	delete(d.resources, h)
	d.freed = append(d.freed, h)
}

// Destroy implements gpucore.Device.
func (d *Device) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	return d.record("Destroy")
}

// === Inspection ===

// Calls returns the verbs received so far, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// Called reports whether verb was received at least once.
func (d *Device) Called(verb string) bool {
	return slices.Contains(d.Calls(), verb)
}

// Count returns how many times verb was received.
func (d *Device) Count(verb string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == verb {
			n++
		}
	}
	return n
}

// Live returns the number of live resources, optionally filtered by kind.
func (d *Device) Live(kinds ...Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.resources {
		if len(kinds) == 0 || slices.Contains(kinds, r.kind) {
			n++
		}
	}
	return n
}

// KindOf returns the kind of a live handle, or 0.
func (d *Device) KindOf(h gpucore.Handle) Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.resources[h]; ok {
		return r.kind
	}
	return 0
}

// Label returns the label of a live handle. Pipelines are labeled
// "shader:entryPoint".
func (d *Device) Label(h gpucore.Handle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.resources[h]; ok {
		return r.label
	}
	return ""
}

// Freed returns the handles released so far, in order.
func (d *Device) Freed() []gpucore.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.freed)
}

// Destroyed reports whether Destroy was called.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Dispatches returns the submitted dispatches.
func (d *Device) Dispatches() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.dispatches)
}

// Sources returns the shader sources passed to CompileSPIRVFromSource.
func (d *Device) Sources() []gpucore.ShaderSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sources)
}

// UniformSet returns the uniforms a uniform set was built from.
func (d *Device) UniformSet(h gpucore.Handle) ([]gpucore.Uniform, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.get(h, KindUniformSet)
	if err != nil {
		return nil, 0, err
	}
	return slices.Clone(r.uniforms), r.set, nil
}

// Buffer returns the live backing slice of a buffer for kernels to use.
func (d *Device) Buffer(h gpucore.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.get(h, KindBuffer)
	if err != nil {
		return nil, err
	}
	return r.data, nil
}

// CopyKernel copies the storage buffer at binding 0 of set 0 into the
// storage buffer at binding 1 of set 0.
func CopyKernel(d *Device, call Dispatch) error {
	uniforms, _, err := d.UniformSet(call.Sets[0])
	if err != nil {
		return err
	}
	var src, dst []byte
	for _, u := range uniforms {
		buf, err := d.Buffer(u.IDs[0])
		if err != nil {
			return err
		}
		switch u.Binding {
		case 0:
			src = buf
		case 1:
			dst = buf
		}
	}
	if src == nil || dst == nil {
		return errors.New("devicetest: copy kernel needs bindings 0 and 1")
	}
	copy(dst, src)
	return nil
}

type computeList struct {
	dev      *Device
	pipeline gpucore.Handle
	sets     map[uint32]gpucore.Handle
	calls    []Dispatch
	ended    bool
}

func (l *computeList) BindPipeline(p gpucore.Handle) {
	l.dev.mu.Lock()
	l.dev.calls = append(l.dev.calls, "BindPipeline")
	l.dev.mu.Unlock()
	l.pipeline = p
}

func (l *computeList) BindUniformSet(h gpucore.Handle, set uint32) {
	l.dev.mu.Lock()
	l.dev.calls = append(l.dev.calls, "BindUniformSet")
	l.dev.mu.Unlock()
	l.sets[set] = h
}

func (l *computeList) Dispatch(x, y, z uint32) {
	l.dev.mu.Lock()
	l.dev.calls = append(l.dev.calls, "Dispatch")
	l.dev.mu.Unlock()
	sets := make(map[uint32]gpucore.Handle, len(l.sets))
	for k, v := range l.sets {
		sets[k] = v
	}
	l.calls = append(l.calls, Dispatch{Pipeline: l.pipeline, Sets: sets, Groups: [3]uint32{x, y, z}})
}

func (l *computeList) End() error {
	l.dev.mu.Lock()
	defer l.dev.mu.Unlock()
	if err := l.dev.record("End"); err != nil {
		return err
	}
	if l.ended {
		return errors.New("devicetest: compute list already ended")
	}
	l.ended = true
	l.dev.pending = append(l.dev.pending, l.calls...)
	return nil
}
