// Package gpucore defines the device abstraction driven by the compute
// dispatcher.
//
// The [Device] interface is the seam between the binding and dispatch
// lifecycle in package compute and a concrete GPU backend. Resources are
// referred to by opaque [Handle] values; a device maps each handle to its
// backend object and releases it on [Device.Free].
//
//	+--------------------+
//	|  ComputeShader     |  binding table, registry, dispatch
//	+---------+----------+
//	          | gpucore.Device
//	+---------v----------+      +---------------------+
//	|  backend/native    |      | internal/devicetest |
//	|  (gogpu/wgpu HAL)  |      | (in-memory, tests)  |
//	+--------------------+      +---------------------+
//
// Uniforms are described by [Uniform]: a binding slot, a [UniformType] and
// the handles that type requires. A combined sampler and texture carries
// two handles; every other type carries one.
package gpucore
