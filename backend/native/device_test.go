//go:build !nogpu

package native

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/gpucore"
)

const copyWGSL = `
@group(0) @binding(0) var<storage, read_write> src: array<u32>;
@group(0) @binding(1) var<storage, read_write> dst: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    dst[id.x] = src[id.x];
}
`

// createNoopDevice creates a noop HAL device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newNoopDevice(t *testing.T) *Device {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	d, err := NewFromHAL(device, queue)
	if err != nil {
		cleanup()
		t.Fatalf("NewFromHAL failed: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Destroy()
		cleanup()
	})
	return d
}

// fakeSPIRV is a module header; the noop backend does not parse it.
var fakeSPIRV = []uint32{0x07230203, 0x00010000, 0, 1, 0}

func TestPickAdapter(t *testing.T) {
	discrete := gputypes.DeviceTypeDiscreteGPU
	integrated := gputypes.DeviceTypeIntegratedGPU
	other := gputypes.DeviceType(0)
	for other == discrete || other == integrated {
		other++
	}

	tests := []struct {
		name  string
		kinds []gputypes.DeviceType
		power PowerPreference
		want  int
	}{
		{"discrete first", []gputypes.DeviceType{other, integrated, discrete}, PreferHighPerformance, 2},
		{"integrated when low power", []gputypes.DeviceType{discrete, integrated}, PreferLowPower, 1},
		{"falls back to other class", []gputypes.DeviceType{other, integrated}, PreferHighPerformance, 1},
		{"falls back to first", []gputypes.DeviceType{other, other}, PreferLowPower, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickAdapter(tt.kinds, tt.power); got != tt.want {
				t.Errorf("pickAdapter() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewFromHALNil(t *testing.T) {
	if _, err := NewFromHAL(nil, nil); err == nil {
		t.Error("NewFromHAL(nil, nil) should fail")
	}
}

// halProvider implements gpucontext.DeviceProvider and exposes HAL objects.
type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *halProvider) Device() gpucontext.Device             { return nil }
func (p *halProvider) Queue() gpucontext.Queue               { return nil }
func (p *halProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *halProvider) HalDevice() any                        { return p.device }
func (p *halProvider) HalQueue() any                         { return p.queue }

// plainProvider is a DeviceProvider without HAL accessors.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device             { return nil }
func (plainProvider) Queue() gpucontext.Queue               { return nil }
func (plainProvider) Adapter() gpucontext.Adapter           { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

func TestFromProvider(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d, err := FromProvider(&halProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("FromProvider failed: %v", err)
	}
	if !d.Borrowed() {
		t.Error("provider device should be borrowed")
	}
	buf, err := d.CreateStorageBuffer(make([]byte, 16))
	if err != nil {
		t.Fatalf("CreateStorageBuffer failed: %v", err)
	}
	d.Free(buf)
	// Borrowed: the HAL device stays usable after Destroy.
	d.Destroy()
	if _, err := device.CreateFence(); err != nil {
		t.Errorf("borrowed device unusable after Destroy: %v", err)
	}

	_, err = FromProvider(&halProvider{device: nil, queue: queue})
	if !errors.Is(err, ErrNotHALProvider) {
		t.Errorf("nil HalDevice: err = %v, want ErrNotHALProvider", err)
	}
	_, err = FromProvider(plainProvider{})
	if !errors.Is(err, ErrNotHALProvider) {
		t.Errorf("no HAL accessors: err = %v, want ErrNotHALProvider", err)
	}
}

func TestBufferLifecycle(t *testing.T) {
	d := newNoopDevice(t)

	if _, err := d.CreateStorageBuffer(nil); err == nil {
		t.Error("empty storage buffer should fail")
	}

	buf, err := d.CreateStorageBuffer(make([]byte, 10))
	if err != nil {
		t.Fatalf("CreateStorageBuffer failed: %v", err)
	}
	b := d.buffers[buf]
	if b.length != 10 || b.size != 12 {
		t.Errorf("buffer length/size = %d/%d, want 10/12", b.length, b.size)
	}

	if err := d.UpdateBuffer(buf, 4, make([]byte, 4)); err != nil {
		t.Errorf("aligned update failed: %v", err)
	}
	if err := d.UpdateBuffer(buf, 8, make([]byte, 2)); err != nil {
		t.Errorf("tail update failed: %v", err)
	}
	if err := d.UpdateBuffer(buf, 2, make([]byte, 4)); err == nil {
		t.Error("unaligned offset should fail")
	}
	if err := d.UpdateBuffer(buf, 8, make([]byte, 4)); err == nil {
		t.Error("overflowing update should fail")
	}
	if err := d.UpdateBuffer(gpucore.Handle(999), 0, make([]byte, 4)); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown buffer: err = %v, want ErrUnknownHandle", err)
	}

	data, err := d.BufferData(buf)
	if err != nil {
		t.Fatalf("BufferData failed: %v", err)
	}
	if len(data) != 10 {
		t.Errorf("BufferData length = %d, want 10", len(data))
	}

	d.Free(buf)
	if _, ok := d.buffers[buf]; ok {
		t.Error("buffer still tracked after Free")
	}
	d.Free(buf) // double free is ignored
	d.Free(gpucore.InvalidHandle)
}

func TestUniformBuffer(t *testing.T) {
	d := newNoopDevice(t)

	buf, err := d.CreateUniformBuffer(make([]byte, 16))
	if err != nil {
		t.Fatalf("CreateUniformBuffer failed: %v", err)
	}
	if !d.buffers[buf].uniform {
		t.Error("uniform buffer not marked uniform")
	}
}

func TestTextureLifecycle(t *testing.T) {
	d := newNoopDevice(t)

	desc := &gpucore.TextureFormatDesc{
		Width:       4,
		Height:      2,
		ArrayLayers: 2,
		Type:        gpucore.TextureType2DArray,
		Format:      gpucore.TextureFormatRGBA8Unorm,
		Usage:       gpucore.TextureUsageSampling | gpucore.TextureUsageCanCopyFrom,
	}
	layer := make([]byte, 4*2*4)

	tex, err := d.CreateTexture(desc, nil, [][]byte{layer, layer})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	entry := d.textures[tex]
	if entry.viewDim != gputypes.TextureViewDimension2DArray {
		t.Errorf("view dimension = %v, want 2D array", entry.viewDim)
	}
	if entry.desc.Usage&gpucore.TextureUsageCanUpdate == 0 {
		t.Error("uploaded texture should carry CanUpdate usage")
	}
	if desc.Usage&gpucore.TextureUsageCanUpdate != 0 {
		t.Error("CreateTexture mutated the caller's description")
	}

	got, err := d.TextureLayerData(tex, 1)
	if err != nil {
		t.Fatalf("TextureLayerData failed: %v", err)
	}
	if len(got) != len(layer) {
		t.Errorf("layer data length = %d, want %d", len(got), len(layer))
	}
	if _, err := d.TextureLayerData(tex, 2); err == nil {
		t.Error("out of range layer should fail")
	}

	d.Free(tex)
	if _, ok := d.textures[tex]; ok {
		t.Error("texture still tracked after Free")
	}
}

func TestCreateTextureErrors(t *testing.T) {
	d := newNoopDevice(t)
	base := gpucore.TextureFormatDesc{Width: 2, Height: 2, Format: gpucore.TextureFormatR8Unorm}

	tests := []struct {
		name   string
		mutate func(*gpucore.TextureFormatDesc)
		layers [][]byte
	}{
		{"zero width", func(f *gpucore.TextureFormatDesc) { f.Width = 0 }, nil},
		{"unknown format", func(f *gpucore.TextureFormatDesc) { f.Format = 0 }, nil},
		{"2D with layers", func(f *gpucore.TextureFormatDesc) { f.ArrayLayers = 3 }, nil},
		{"too many layers", func(*gpucore.TextureFormatDesc) {}, [][]byte{make([]byte, 4), make([]byte, 4)}},
		{"short layer", func(*gpucore.TextureFormatDesc) {}, [][]byte{make([]byte, 3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := base
			tt.mutate(&desc)
			if _, err := d.CreateTexture(&desc, nil, tt.layers); err == nil {
				t.Error("CreateTexture should fail")
			}
		})
	}
	if _, err := d.CreateTexture(nil, nil, nil); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("nil desc: err = %v, want ErrInvalidDimensions", err)
	}
	if n := len(d.textures); n != 0 {
		t.Errorf("%d textures tracked after failed creations", n)
	}
}

func TestTextureReadbackNeedsCopyUsage(t *testing.T) {
	d := newNoopDevice(t)
	tex, err := d.CreateTexture(&gpucore.TextureFormatDesc{
		Width: 2, Height: 2, Format: gpucore.TextureFormatR8Unorm, Usage: gpucore.TextureUsageSampling,
	}, nil, nil)
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if _, err := d.TextureLayerData(tex, 0); err == nil {
		t.Error("readback without CanCopyFrom should fail")
	}
}

func TestUnpadRows(t *testing.T) {
	padded := []byte{1, 2, 0, 0, 3, 4, 0, 0}
	got := unpadRows(padded, 2, 4, 2)
	want := []byte{1, 2, 3, 4}
	if string(got) != string(want) {
		t.Errorf("unpadRows() = %v, want %v", got, want)
	}
	if got := unpadRows(want, 2, 2, 2); len(got) != 4 {
		t.Errorf("unpadded length = %d, want 4", len(got))
	}
}

func TestSampler(t *testing.T) {
	d := newNoopDevice(t)
	s, err := d.CreateSampler(&gpucore.SamplerState{MagFilter: gpucore.FilterNearest, AddressModeU: gpucore.AddressRepeat})
	if err != nil {
		t.Fatalf("CreateSampler failed: %v", err)
	}
	if _, err := d.CreateSampler(nil); err != nil {
		t.Errorf("default sampler failed: %v", err)
	}
	d.Free(s)
	if _, ok := d.samplers[s]; ok {
		t.Error("sampler still tracked after Free")
	}
}

func TestConvertHelpers(t *testing.T) {
	if _, ok := convertTextureFormat(gpucore.TextureFormat(0)); ok {
		t.Error("zero format should not convert")
	}
	if f, ok := convertTextureFormat(gpucore.TextureFormatBGRA8Unorm); !ok || f != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("BGRA8 converted to %v, %v", f, ok)
	}
	u := convertTextureUsage(gpucore.TextureUsageStorage | gpucore.TextureUsageCanCopyFrom)
	if u&gputypes.TextureUsageStorageBinding == 0 || u&gputypes.TextureUsageCopySrc == 0 {
		t.Errorf("usage = %v, missing storage or copy-src", u)
	}
	if u&gputypes.TextureUsageCopyDst != 0 {
		t.Errorf("usage = %v, unexpected copy-dst", u)
	}
	if convertFilterMode(gpucore.FilterNearest) != gputypes.FilterModeNearest {
		t.Error("nearest filter not converted")
	}
	if convertAddressMode(gpucore.AddressMirrorRepeat) != gputypes.AddressModeMirrorRepeat {
		t.Error("mirror repeat not converted")
	}
}

func TestUniformSetAndDispatch(t *testing.T) {
	d := newNoopDevice(t)

	shader, err := d.CreateShaderFromSPIRV(fakeSPIRV, "copy")
	if err != nil {
		t.Fatalf("CreateShaderFromSPIRV failed: %v", err)
	}
	pipeline, err := d.CreateComputePipeline(shader, "main")
	if err != nil {
		t.Fatalf("CreateComputePipeline failed: %v", err)
	}
	src, _ := d.CreateStorageBuffer(make([]byte, 256))
	dst, _ := d.CreateStorageBuffer(make([]byte, 256))

	set, err := d.CreateUniformSet([]gpucore.Uniform{
		gpucore.StorageBufferUniform(1, dst),
		gpucore.StorageBufferUniform(0, src),
	}, shader, 0)
	if err != nil {
		t.Fatalf("CreateUniformSet failed: %v", err)
	}

	for range 2 {
		list, err := d.BeginComputeList()
		if err != nil {
			t.Fatalf("BeginComputeList failed: %v", err)
		}
		list.BindPipeline(pipeline)
		list.BindUniformSet(set, 0)
		list.Dispatch(1, 1, 1)
		if err := list.End(); err != nil {
			t.Fatalf("End failed: %v", err)
		}
		if err := list.End(); !errors.Is(err, ErrListEnded) {
			t.Errorf("second End: err = %v, want ErrListEnded", err)
		}
		if err := d.Submit(); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if err := d.Sync(); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
	}

	if n := d.cache.Len(); n != 1 {
		t.Errorf("cached pipelines = %d, want 1", n)
	}
	if hits, misses := d.cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", hits, misses)
	}

	if err := d.Submit(); !errors.Is(err, ErrNothingToSubmit) {
		t.Errorf("Submit with nothing ended: err = %v, want ErrNothingToSubmit", err)
	}

	d.Free(pipeline)
	if n := d.cache.Len(); n != 0 {
		t.Errorf("cached pipelines after Free = %d, want 0", n)
	}
}

func TestShaderOutlivesFreeWhilePipelineAlive(t *testing.T) {
	d := newNoopDevice(t)

	shader, _ := d.CreateShaderFromSPIRV(fakeSPIRV, "s")
	pipeline, err := d.CreateComputePipeline(shader, "main")
	if err != nil {
		t.Fatalf("CreateComputePipeline failed: %v", err)
	}
	entry := d.pipelines[pipeline].shader

	d.Free(shader)
	if entry.module == nil {
		t.Fatal("module destroyed while a pipeline still uses it")
	}
	d.Free(pipeline)
	if entry.module != nil {
		t.Error("module not destroyed after its last pipeline was freed")
	}
}

func TestCreateComputePipelineErrors(t *testing.T) {
	d := newNoopDevice(t)
	shader, _ := d.CreateShaderFromSPIRV(fakeSPIRV, "s")

	if _, err := d.CreateComputePipeline(shader, ""); err == nil {
		t.Error("empty entry point should fail")
	}
	if _, err := d.CreateComputePipeline(gpucore.Handle(12345), "main"); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown shader: err = %v, want ErrUnknownHandle", err)
	}
	if _, err := d.CreateShaderFromSPIRV(nil, "empty"); err == nil {
		t.Error("empty SPIR-V should fail")
	}
}

func TestUniformSetErrors(t *testing.T) {
	d := newNoopDevice(t)
	shader, _ := d.CreateShaderFromSPIRV(fakeSPIRV, "s")
	buf, _ := d.CreateStorageBuffer(make([]byte, 4))
	sampler, _ := d.CreateSampler(nil)

	tests := []struct {
		name     string
		uniforms []gpucore.Uniform
		want     error
	}{
		{"unknown buffer", []gpucore.Uniform{gpucore.StorageBufferUniform(0, gpucore.Handle(777))}, ErrUnknownHandle},
		{"duplicate binding", []gpucore.Uniform{
			gpucore.StorageBufferUniform(0, buf),
			gpucore.StorageBufferUniform(0, buf),
		}, ErrBindingCollision},
		{"sampler texture pair overlaps next slot", []gpucore.Uniform{
			gpucore.SamplerWithTextureUniform(0, sampler, gpucore.Handle(778)),
			gpucore.StorageBufferUniform(1, buf),
		}, ErrBindingCollision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateUniformSet(tt.uniforms, shader, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := d.CreateUniformSet(nil, gpucore.Handle(4242), 0); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown shader: err = %v, want ErrUnknownHandle", err)
	}
	if n := len(d.uniformSets); n != 0 {
		t.Errorf("%d uniform sets tracked after failures", n)
	}
}

func TestDispatchErrors(t *testing.T) {
	d := newNoopDevice(t)

	list, _ := d.BeginComputeList()
	list.Dispatch(1, 1, 1)
	if err := list.End(); err == nil {
		t.Error("dispatch without pipeline should fail")
	}

	list, _ = d.BeginComputeList()
	list.BindPipeline(gpucore.Handle(31337))
	if err := list.End(); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("unknown pipeline: err = %v, want ErrUnknownHandle", err)
	}
	if err := d.Submit(); !errors.Is(err, ErrNothingToSubmit) {
		t.Errorf("failed list must not be submitted: err = %v", err)
	}
}

func TestGapSetsUseEmptyLayout(t *testing.T) {
	d := newNoopDevice(t)
	shader, _ := d.CreateShaderFromSPIRV(fakeSPIRV, "s")
	pipeline, _ := d.CreateComputePipeline(shader, "main")
	buf, _ := d.CreateStorageBuffer(make([]byte, 4))
	set, err := d.CreateUniformSet([]gpucore.Uniform{gpucore.StorageBufferUniform(0, buf)}, shader, 2)
	if err != nil {
		t.Fatalf("CreateUniformSet failed: %v", err)
	}

	list, _ := d.BeginComputeList()
	list.BindPipeline(pipeline)
	list.BindUniformSet(set, 2)
	list.Dispatch(1, 1, 1)
	if err := list.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if d.emptyLayout == nil {
		t.Error("sets 0 and 1 should be filled with the empty layout")
	}
}

func TestDestroy(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d, _ := NewFromHAL(device, queue)
	shader, _ := d.CreateShaderFromSPIRV(fakeSPIRV, "s")
	_, _ = d.CreateComputePipeline(shader, "main")
	_, _ = d.CreateStorageBuffer(make([]byte, 4))
	_, _ = d.CreateSampler(nil)

	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Errorf("second Destroy: %v", err)
	}

	if len(d.shaders)+len(d.pipelines)+len(d.buffers)+len(d.samplers) != 0 {
		t.Error("resources still tracked after Destroy")
	}
	if _, err := d.CreateStorageBuffer(make([]byte, 4)); !errors.Is(err, ErrDestroyed) {
		t.Errorf("create after Destroy: err = %v, want ErrDestroyed", err)
	}
	if err := d.Sync(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Sync after Destroy: err = %v, want ErrDestroyed", err)
	}
	d.Free(gpucore.Handle(1)) // ignored
}

func TestFactoryRegistered(t *testing.T) {
	for _, name := range compute.DeviceFactories() {
		if name == "vulkan" {
			return
		}
	}
	t.Error("vulkan factory not registered")
}

// openGPU opens a real device or skips the test.
func openGPU(t *testing.T) *Device {
	t.Helper()
	d, err := Open()
	if err != nil {
		t.Skipf("no GPU available: %v", err)
	}
	t.Cleanup(func() { _ = d.Destroy() })
	return d
}

func TestGPUCopyShader(t *testing.T) {
	d := openGPU(t)

	cs, err := compute.New("copy.wgsl", compute.WithDevice(d), compute.WithFS(fstest.MapFS{"copy.wgsl": {Data: []byte(copyWGSL)}}))
	if err != nil {
		t.Fatalf("compute.New failed: %v", err)
	}
	defer cs.Close()

	const n = 64
	in := make([]byte, n*4)
	for i := range in {
		in[i] = byte(i)
	}
	if _, err := cs.CreateStorageBufferUniform(in, 0, 0); err != nil {
		t.Fatalf("create src: %v", err)
	}
	dst, err := cs.CreateStorageBufferUniform(make([]byte, n*4), 1, 0)
	if err != nil {
		t.Fatalf("create dst: %v", err)
	}
	if err := cs.FinishCreateUniforms(); err != nil {
		t.Fatalf("FinishCreateUniforms failed: %v", err)
	}
	if err := cs.Compute(1, 1, 1); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	out, err := cs.StorageBufferUniform(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("dst = %v, want %v", out[:8], in[:8])
	}
}
