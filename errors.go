package siftgpu

import "errors"

// Error taxonomy (§7). A failure that falls into one of these classes wraps
// the matching sentinel with fmt.Errorf("%w: ...") so callers can
// distinguish failure classes with errors.Is regardless of which stage
// produced them. Other failures (for example a bind-group or encoder error)
// are returned wrapped with stage context but without a sentinel.
var (
	// ErrUnavailable is returned when no suitable GPU device or adapter
	// could be obtained. Nothing retries automatically.
	ErrUnavailable = errors.New("siftgpu: no suitable device available")

	// ErrBadConfig is returned when Options are out of range, the input
	// image is smaller than the minimum side (8), or the pixel format is
	// unsupported.
	ErrBadConfig = errors.New("siftgpu: invalid configuration")

	// ErrCapacity is returned for allocation failures on the pyramid or
	// staging buffers. Keypoint append-buffer overflow is not reported
	// through this error: it truncates silently at max_keypoints and is
	// surfaced as a Warning on the returned result instead (normative,
	// §7).
	ErrCapacity = errors.New("siftgpu: capacity exceeded")

	// ErrShaderLoad is returned when a shader source is missing or fails
	// to compile. Fatal at init.
	ErrShaderLoad = errors.New("siftgpu: shader load failed")

	// ErrDeviceLost is returned when the GPU device resets mid-operation.
	// The driver must be reconstructed; it is not usable afterward.
	ErrDeviceLost = errors.New("siftgpu: device lost")
)
