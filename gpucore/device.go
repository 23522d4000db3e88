package gpucore

// Device abstracts over the GPU context a compute shader runs on.
//
// This interface is the collaborator the compute dispatcher drives through
// a fixed set of verbs: compile, create, bind, dispatch, submit, sync and
// free. Implementations include the HAL-backed device in backend/native
// and the in-memory device used by tests.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly released via Free
//   - Freeing a resource while a submitted list uses it is undefined behavior
//   - Handles become invalid after Free and are never reused
type Device interface {
	// === Shaders and pipelines ===

	// CompileSPIRVFromSource compiles preprocessed compute source to SPIR-V.
	// SPIR-V sources are decoded and returned as is.
	CompileSPIRVFromSource(src *ShaderSource) ([]uint32, error)

	// CreateShaderFromSPIRV creates a shader object from SPIR-V words.
	CreateShaderFromSPIRV(spirv []uint32, label string) (Handle, error)

	// CreateComputePipeline creates a compute pipeline for shader using the
	// given entry point.
	CreateComputePipeline(shader Handle, entryPoint string) (Handle, error)

	// === Buffers ===

	// CreateStorageBuffer allocates a storage buffer sized to and
	// initialized from data.
	CreateStorageBuffer(data []byte) (Handle, error)

	// CreateUniformBuffer allocates a uniform buffer sized to and
	// initialized from data.
	CreateUniformBuffer(data []byte) (Handle, error)

	// UpdateBuffer overwrites buffer content starting at offset.
	UpdateBuffer(buf Handle, offset uint64, data []byte) error

	// BufferData copies the whole buffer back to host memory.
	// This synchronizes with the GPU.
	BufferData(buf Handle) ([]byte, error)

	// === Textures and samplers ===

	// CreateTexture allocates a texture and uploads one tightly packed
	// layer per entry of layers.
	CreateTexture(format *TextureFormatDesc, view *TextureView, layers [][]byte) (Handle, error)

	// TextureLayerData copies one texture layer back to host memory.
	TextureLayerData(tex Handle, layer uint32) ([]byte, error)

	// CreateSampler creates a sampler.
	CreateSampler(state *SamplerState) (Handle, error)

	// === Uniform sets ===

	// CreateUniformSet builds one uniform set from an ordered uniform list
	// bound to shader at the given set index.
	CreateUniformSet(uniforms []Uniform, shader Handle, set uint32) (Handle, error)

	// === Execution ===

	// BeginComputeList starts recording a compute command list.
	BeginComputeList() (ComputeList, error)

	// Submit sends the most recently ended compute list to the GPU.
	Submit() error

	// Sync blocks until all submitted work has completed.
	Sync() error

	// === Lifetime ===

	// Free releases a resource. Invalid or unknown handles are ignored.
	Free(h Handle)

	// Destroy releases the device context itself. The error reports work
	// that did not finish cleanly; the device is released either way.
	Destroy() error
}

// ComputeList records commands for a single compute dispatch sequence.
type ComputeList interface {
	// BindPipeline sets the compute pipeline.
	BindPipeline(pipeline Handle)

	// BindUniformSet binds a uniform set at the given set index.
	BindUniformSet(uniformSet Handle, set uint32)

	// Dispatch records a dispatch with the given workgroup counts.
	Dispatch(x, y, z uint32)

	// End finishes recording. The list is submitted with Device.Submit.
	End() error
}
