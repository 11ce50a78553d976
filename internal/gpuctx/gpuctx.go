// Package gpuctx is the GPU resource manager (C1): it owns a device and
// queue, a cache of compiled compute pipelines keyed by shader name, and a
// cache of Gaussian-kernel buffers keyed by (sigma, radius) quantized to
// four decimal places. Device acquisition mirrors the teacher's standalone
// Vulkan bootstrap (internal/gpu/vello_accelerator.go's initGPU): enumerate
// adapters, prefer a discrete or integrated GPU, and open it directly
// through gogpu/wgpu/hal without going through a windowed surface.
package gpuctx

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/siftgpu/internal/kernel"
	"github.com/gogpu/siftgpu/internal/logging"
	"github.com/gogpu/siftgpu/internal/pack"
)

// readbackTimeout bounds the fence wait for a buffer-readback copy,
// matching the stage dispatch timeout in internal/gpupipe.
const readbackTimeout = 5 * time.Second

// ErrUnavailable is returned when no compatible GPU backend or adapter can
// be found. NewDetector returns it to the caller wrapped as
// siftgpu.ErrUnavailable; nothing falls back to the CPU path automatically.
var ErrUnavailable = fmt.Errorf("gpuctx: no compatible GPU available")

// ErrShaderLoad is returned when a shader module or pipeline fails to
// compile.
var ErrShaderLoad = fmt.Errorf("gpuctx: shader load failed")

// ErrDeviceLost is returned when a previously acquired device stops
// responding (GPU reset, driver crash, external Destroy).
var ErrDeviceLost = fmt.Errorf("gpuctx: device lost")

// ErrCapacity is returned when a buffer allocation (pyramid storage grid,
// kernel buffer, or any other device buffer) fails.
var ErrCapacity = fmt.Errorf("gpuctx: buffer allocation failed")

// pipelineEntry is one compiled stage: module, bind group layout, pipeline
// layout, and pipeline, cached together so Close() can tear them all down.
type pipelineEntry struct {
	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

// Context is the C1 resource manager.
type Context struct {
	mu sync.RWMutex

	backendName gputypes.Backend
	instance    hal.Instance
	device      hal.Device
	queue       hal.Queue
	standalone  bool // true if this Context created instance/device and owns their lifetime

	pipelines map[string]*pipelineEntry
	kernels   *kernel.Cache
	kernelBuf map[kernel.Key]hal.Buffer
}

// candidateBackends lists the backends attempted during standalone device
// acquisition, in preference order. Only Vulkan's init-registration is
// imported here (matching the teacher, which only registers Vulkan for its
// compute-only accelerator); the others are attempted only if the caller's
// build also imports their init packages.
var candidateBackends = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
}

// New acquires a standalone GPU device, preferring a discrete GPU, falling
// back to an integrated one, and finally to whatever adapter the backend
// reports first. Returns ErrUnavailable if no backend has a usable adapter.
func New() (*Context, error) {
	var lastErr error
	for _, name := range candidateBackends {
		backend, ok := hal.GetBackend(name)
		if !ok {
			continue
		}

		instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
		if err != nil {
			lastErr = err
			continue
		}

		adapters := instance.EnumerateAdapters(nil)
		if len(adapters) == 0 {
			instance.Destroy()
			lastErr = fmt.Errorf("gpuctx: backend %v exposed no adapters", name)
			continue
		}

		selected := &adapters[0]
		for i := range adapters {
			if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
				selected = &adapters[i]
				break
			}
			if adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
				selected = &adapters[i]
			}
		}

		openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			instance.Destroy()
			lastErr = err
			continue
		}

		logging.Get().Info("gpuctx: device acquired", "backend", name, "adapter", selected.Info.Name)
		return newContext(name, instance, openDev.Device, openDev.Queue, true), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
	}
	return nil, ErrUnavailable
}

// NewFromDevice wraps an already-open device and queue supplied by a host
// application, mirroring the teacher's SetDeviceProvider path for sharing a
// device rather than creating a standalone one. The Context does not
// destroy device or queue on Close.
func NewFromDevice(device hal.Device, queue hal.Queue) (*Context, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device or queue", ErrUnavailable)
	}
	return newContext(gputypes.BackendVulkan, nil, device, queue, false), nil
}

// NewFromProvider wraps a gpucontext.DeviceProvider, the interface a host
// application (e.g. a gogpu.App) implements to share its device with a
// library instead of handing over raw hal types, matching the DeviceHandle
// integration point documented on render.DeviceHandle. gpucontext.Device and
// gpucontext.Queue share hal.Device's and hal.Queue's method sets, so the
// provider's values assign directly with no adapter shim.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Context, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil device provider", ErrUnavailable)
	}
	var device hal.Device = provider.Device()
	var queue hal.Queue = provider.Queue()
	return NewFromDevice(device, queue)
}

func newContext(name gputypes.Backend, instance hal.Instance, device hal.Device, queue hal.Queue, standalone bool) *Context {
	return &Context{
		backendName: name,
		instance:    instance,
		device:      device,
		queue:       queue,
		standalone:  standalone,
		pipelines:   make(map[string]*pipelineEntry),
		kernels:     kernel.NewCache(),
		kernelBuf:   make(map[kernel.Key]hal.Buffer),
	}
}

// Device returns the underlying HAL device.
func (c *Context) Device() hal.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Queue returns the underlying HAL queue.
func (c *Context) Queue() hal.Queue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queue
}

// SetLogger installs l as the package-wide logger used by gpuctx and its
// siblings under internal/.
func SetLogger(l *slog.Logger) { logging.Set(l) }

// Close releases every cached pipeline and kernel buffer, then the device
// and instance if this Context owns them.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, p := range c.pipelines {
		c.destroyPipelineLocked(p)
		delete(c.pipelines, name)
	}
	for key, buf := range c.kernelBuf {
		c.device.DestroyBuffer(buf)
		delete(c.kernelBuf, key)
	}

	if c.standalone {
		if c.device != nil {
			c.device.Destroy()
		}
		if c.instance != nil {
			c.instance.Destroy()
		}
	}
	c.device = nil
	c.queue = nil
}

func (c *Context) destroyPipelineLocked(p *pipelineEntry) {
	if p.pipeline != nil {
		c.device.DestroyComputePipeline(p.pipeline)
	}
	if p.layout != nil {
		c.device.DestroyPipelineLayout(p.layout)
	}
	if p.bgLayout != nil {
		c.device.DestroyBindGroupLayout(p.bgLayout)
	}
	if p.module != nil {
		c.device.DestroyShaderModule(p.module)
	}
}

// Pipeline is a compiled compute stage ready for dispatch.
type Pipeline struct {
	Pipeline hal.ComputePipeline
	Layout   hal.PipelineLayout
	BGLayout hal.BindGroupLayout
}

// GetPipeline returns the cached pipeline for name, compiling it from wgsl
// with the given bind group layout entries if this is the first request.
// Compilation is idempotent: concurrent callers requesting the same name
// converge on a single compiled pipeline.
func (c *Context) GetPipeline(name, wgsl string, entries []gputypes.BindGroupLayoutEntry) (*Pipeline, error) {
	c.mu.RLock()
	if p, ok := c.pipelines[name]; ok {
		c.mu.RUnlock()
		return &Pipeline{Pipeline: p.pipeline, Layout: p.layout, BGLayout: p.bgLayout}, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[name]; ok {
		return &Pipeline{Pipeline: p.pipeline, Layout: p.layout, BGLayout: p.bgLayout}, nil
	}

	spirv, err := compileSPIRV(wgsl)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: naga compile: %w", ErrShaderLoad, name, err)
	}
	module, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrShaderLoad, name, err)
	}

	bgLayout, err := c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   name + "_bgl",
		Entries: entries,
	})
	if err != nil {
		c.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("%w: %s: bind group layout: %w", ErrShaderLoad, name, err)
	}

	layout, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            name + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		c.device.DestroyBindGroupLayout(bgLayout)
		c.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("%w: %s: pipeline layout: %w", ErrShaderLoad, name, err)
	}

	pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  name,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		c.device.DestroyPipelineLayout(layout)
		c.device.DestroyBindGroupLayout(bgLayout)
		c.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("%w: %s: %w", ErrShaderLoad, name, err)
	}

	entry := &pipelineEntry{module: module, bgLayout: bgLayout, layout: layout, pipeline: pipeline}
	c.pipelines[name] = entry
	logging.Get().Debug("gpuctx: pipeline compiled", "name", name, "bindings", len(entries))
	return &Pipeline{Pipeline: pipeline, Layout: layout, BGLayout: bgLayout}, nil
}

// compileSPIRV translates WGSL to SPIR-V via naga before handing it to the
// driver, the same compile step the teacher's CompileShaderToSPIRV helper
// runs for every rasterizer's shader modules (internal/native/shader_helper.go).
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// GetKernelBuffer returns a GPU storage buffer holding the normalized 1-D
// Gaussian taps for (sigma, radius), uploading and caching it on first
// request. The cache key quantizes sigma to four decimal places per §4.1.
func (c *Context) GetKernelBuffer(sigma float64, radius int) (hal.Buffer, error) {
	key := kernel.NewKey(sigma, radius)

	c.mu.RLock()
	if buf, ok := c.kernelBuf[key]; ok {
		c.mu.RUnlock()
		return buf, nil
	}
	c.mu.RUnlock()

	taps := c.kernels.Get(sigma, radius)

	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.kernelBuf[key]; ok {
		return buf, nil
	}

	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "kernel_taps",
		Size:  uint64(len(taps)) * 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create kernel buffer: %w", ErrCapacity, err)
	}
	c.queue.WriteBuffer(buf, 0, float32SliceToBytes(taps))
	c.kernelBuf[key] = buf
	return buf, nil
}

// PrecomputeKernels uploads kernel buffers for the deterministic sigma set
// up front, so the first pyramid-building dispatch does not stall on a
// buffer allocation + upload in the middle of a command stream.
func (c *Context) PrecomputeKernels(sigmas []float64) error {
	for _, sigma := range sigmas {
		radius := kernel.Radius(sigma)
		if _, err := c.GetKernelBuffer(sigma, radius); err != nil {
			return err
		}
	}
	return nil
}

// CreateStorageGrid allocates a zero-initialized packed-texel storage
// buffer sized for a logical w x h image, per the packed-texel layout of
// internal/pack. Usable as a Gaussian, DoG, or intermediate ping-pong
// texture in the pyramid stages.
func (c *Context) CreateStorageGrid(w, h int) (hal.Buffer, error) {
	pw, ph := pack.Dims(w, h)
	size := uint64(pw) * uint64(ph) * 4 * 4 // 4 float32 channels per texel
	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "packed_grid",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create storage grid: %w", ErrCapacity, err)
	}
	zeros := make([]byte, size)
	c.queue.WriteBuffer(buf, 0, zeros)
	return buf, nil
}

// CreateBuffer is a thin pass-through to the device's buffer creation, for
// callers (internal/gpupipe) that need buffer shapes CreateStorageGrid and
// GetKernelBuffer do not cover (append buffers, indirect-dispatch args,
// descriptor arrays).
func (c *Context) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if size == 0 {
		size = 4
	}
	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("%w: create buffer %q: %w", ErrCapacity, label, err)
	}
	return buf, nil
}

// WriteBuffer uploads data to buf at offset via the underlying queue.
func (c *Context) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) {
	c.mu.RLock()
	queue := c.queue
	c.mu.RUnlock()
	queue.WriteBuffer(buf, offset, data)
}

// DestroyBuffer releases a buffer created via CreateBuffer, CreateStorageGrid,
// or returned from GetKernelBuffer (though kernel buffers are normally
// released by Close, not individually).
func (c *Context) DestroyBuffer(buf hal.Buffer) {
	if buf != nil {
		c.device.DestroyBuffer(buf)
	}
}

// ReadBuffer copies size bytes starting at offset from a GPU buffer back to
// host memory via a staging buffer, a single CopyBufferToBuffer, and a
// fence wait, then maps and unmaps the staging buffer. It mirrors the
// submit/fence/wait sequence the teacher uses for compute dispatch
// (internal/gpu/vello_compute.go's submitAndWait) applied to a readback
// copy instead of a dispatch, finishing with the blocking MapRange/Unmap
// pair that matches the synchronous style of every other hal call observed
// in the teacher (CreateBuffer, Submit+Wait never appear behind callbacks).
func (c *Context) ReadBuffer(src hal.Buffer, offset, size uint64) ([]byte, error) {
	c.mu.RLock()
	device, queue := c.device, c.queue
	c.mu.RUnlock()

	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create staging buffer: %w", ErrCapacity, err)
	}
	defer device.DestroyBuffer(staging)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return nil, fmt.Errorf("gpuctx: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return nil, fmt.Errorf("gpuctx: begin encoding: %w", err)
	}
	if err := encoder.CopyBufferToBuffer(src, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	}); err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("gpuctx: copy buffer to buffer: %w", err)
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("gpuctx: end encoding: %w", err)
	}

	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("gpuctx: create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("gpuctx: submit: %w", err)
	}
	ok, err := device.Wait(fence, 1, readbackTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: timeout waiting for readback copy", ErrDeviceLost)
	}

	mapped, err := staging.MapRange(0, size)
	if err != nil {
		return nil, fmt.Errorf("gpuctx: map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// Float32SliceToBytes converts v to a little-endian byte slice suitable for
// queue.WriteBuffer, for callers (internal/gpupipe) that need to upload
// float data into buffers this package didn't allocate itself.
func Float32SliceToBytes(v []float32) []byte {
	return float32SliceToBytes(v)
}

func float32SliceToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}
