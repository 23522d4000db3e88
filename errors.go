package compute

import (
	"errors"

	"github.com/gogpu/compute/internal/binding"
	"github.com/gogpu/compute/internal/preprocess"
)

// Errors returned by ComputeShader. Failures wrap one of these together
// with the underlying cause, so both match with errors.Is.
var (
	// ErrDeviceUnavailable is returned when no device context can be obtained.
	ErrDeviceUnavailable = errors.New("compute: device unavailable")

	// ErrShaderLoad is returned when the shader file or one of its
	// includes cannot be read.
	ErrShaderLoad = errors.New("compute: shader load failed")

	// ErrShaderCompile is returned when the shader source does not compile
	// or the device rejects the compiled module.
	ErrShaderCompile = errors.New("compute: shader compile failed")

	// ErrPipelineCreation is returned when the compute pipeline cannot be created.
	ErrPipelineCreation = errors.New("compute: pipeline creation failed")

	// ErrNotReady is returned when an operation needs an initialized shader
	// or finalized uniforms.
	ErrNotReady = errors.New("compute: not ready")

	// ErrUniformSet is returned when a uniform set cannot be built.
	ErrUniformSet = errors.New("compute: uniform set creation failed")

	// ErrDispatch is returned when recording or submitting a dispatch fails.
	ErrDispatch = errors.New("compute: dispatch failed")

	// ErrInvalidGroups is returned for a dispatch with a zero group count.
	ErrInvalidGroups = errors.New("compute: workgroup counts must be positive")

	// ErrInvalidArgument is returned for a nil image or texture format and an
	// empty layer list.
	ErrInvalidArgument = errors.New("compute: invalid argument")

	// ErrUnsupportedFormat is returned when an image cannot be converted to
	// the texel layout of a texture format.
	ErrUnsupportedFormat = errors.New("compute: unsupported texture format")

	// ErrImageSize is returned when texel data does not match the texture size.
	ErrImageSize = errors.New("compute: image size mismatch")

	// ErrCircularInclude is returned when shader includes form a cycle.
	ErrCircularInclude = preprocess.ErrCircularInclude

	// ErrBindingInUse is returned when a binding slot is registered twice in a set.
	ErrBindingInUse = binding.ErrBindingInUse
)
