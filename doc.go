// Package compute runs GPU compute shaders.
//
// # Overview
//
// compute is a thin layer over a GPU device: it loads a compute shader,
// binds storage buffers, images and layered images as uniform sets,
// dispatches work and reads the results back. The device itself is reached
// through [gpucore.Device]; backend/native provides one on top of
// gogpu/wgpu.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/compute"
//		_ "github.com/gogpu/compute/backend/native" // registers the Vulkan device
//	)
//
//	cs, err := compute.New("shaders/double.wgsl")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cs.Close()
//
//	in, _ := cs.CreateStorageBufferUniform(input, 0, 0)
//	out, _ := cs.CreateStorageBufferUniform(make([]byte, len(input)), 1, 0)
//	if err := cs.FinishCreateUniforms(); err != nil {
//		log.Fatal(err)
//	}
//	if err := cs.Compute(groups, 1, 1); err != nil {
//		log.Fatal(err)
//	}
//	result, _ := cs.StorageBufferUniform(out)
//
// # Lifecycle
//
// A [ComputeShader] moves through three states:
//
//   - uninitialized: New failed; every operation returns [ErrNotReady]
//   - initialized: the pipeline exists and uniforms may be registered
//   - ready: [ComputeShader.FinishCreateUniforms] has built every uniform set
//
// Registering a uniform moves a ready shader back to initialized.
// [ComputeShader.Close] releases everything the shader created and, if New
// opened the device itself, the device.
//
// # Shader sources
//
// WGSL files may start with a "#[compute]" marker and use
// #include "relative/path" directives, resolved against the including
// file. An include on a line that has "//" before it is left as is.
// Cyclic includes fail with [ErrCircularInclude]. Files ending in ".spv"
// are loaded as precompiled SPIR-V.
package compute
