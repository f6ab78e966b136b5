package ggtext

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Embedded glyph strip shader source.
//
//go:embed shaders/text_strip.wgsl
var stripShaderSource string

// stripVertexStride is the byte stride per vertex attribute buffer.
// Each of the three slots carries a vec2<f32>.
const stripVertexStride = 8

// stripUniformSize is the byte size of the strip uniform buffer.
// Layout: viewport (vec2<f32>) + kind (u32) + pad (u32) +
// color (vec4<f32>) = 32 bytes.
const stripUniformSize = 32

// paintKindText selects atlas-masked rendering in the fragment shader.
const paintKindText = 1

// PipelineConfig holds configuration for the strip pipeline.
type PipelineConfig struct {
	// TargetFormat is the color format of the render target.
	// Default: BGRA8Unorm.
	TargetFormat gputypes.TextureFormat

	// SampleCount is the MSAA sample count of the render target.
	// Default: 1.
	SampleCount uint32

	// ValidateSPIRV cross-compiles the WGSL shader through naga at
	// pipeline creation, surfacing shader errors early.
	ValidateSPIRV bool
}

// DefaultPipelineConfig returns default configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TargetFormat: gputypes.TextureFormatBGRA8Unorm,
		SampleCount:  1,
	}
}

// StripPipeline owns the render pipeline drawing glyph strips, plus
// the sampler, the shared uniform buffer and the per-atlas bind group
// cache. One StripPipeline is shared by every Text of a Context.
type StripPipeline struct {
	device hal.Device
	queue  hal.Queue
	config PipelineConfig

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler
	uniformBuf hal.Buffer

	// Bind groups are created lazily per atlas texture view. A rebake
	// that grows the atlas texture yields a new view and therefore a
	// new cache entry; stale entries are released on Destroy.
	bindGroups map[hal.TextureView]hal.BindGroup

	viewport [2]float32
	color    [4]float32
}

// NewStripPipeline compiles the strip shader and creates the render
// pipeline. Zero config fields take defaults.
func NewStripPipeline(device hal.Device, queue hal.Queue, config PipelineConfig) (*StripPipeline, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	if config.TargetFormat == gputypes.TextureFormatUndefined {
		config.TargetFormat = DefaultPipelineConfig().TargetFormat
	}
	if config.SampleCount == 0 {
		config.SampleCount = DefaultPipelineConfig().SampleCount
	}

	p := &StripPipeline{
		device:     device,
		queue:      queue,
		config:     config,
		bindGroups: make(map[hal.TextureView]hal.BindGroup),
		viewport:   [2]float32{1, 1},
		color:      [4]float32{1, 1, 1, 1},
	}
	if err := p.createPipeline(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// createPipeline builds the shader module, layouts, sampler, uniform
// buffer and the render pipeline with premultiplied alpha blending.
func (p *StripPipeline) createPipeline() error {
	shader, err := createShaderModule(p.device, "text_strip_shader", stripShaderSource, p.config.ValidateSPIRV)
	if err != nil {
		return fmt.Errorf("compile text_strip shader: %w", err)
	}
	p.shader = shader

	// Bind group layout:
	//   Binding 0: StripParams (uniform buffer, vertex+fragment)
	//   Binding 1: atlas texture (texture_2d, fragment)
	//   Binding 2: sampler (fragment)
	bindLayout, err := p.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "text_strip_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create text_strip bind layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := p.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "text_strip_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create text_strip pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	sampler, err := p.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "text_strip_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("create text_strip sampler: %w", err)
	}
	p.sampler = sampler

	uniformBuf, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "text_strip_uniforms",
		Size:  stripUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create text_strip uniform buffer: %w", err)
	}
	p.uniformBuf = uniformBuf
	p.writeUniforms()

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := p.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "text_strip_pipeline",
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.shader,
			EntryPoint: "vs_main",
			Buffers:    stripVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     p.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    p.config.TargetFormat,
					Blend:     &premulBlend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleStrip,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: p.config.SampleCount,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create text_strip pipeline: %w", err)
	}
	p.pipeline = pipeline

	return nil
}

// SetViewport sets the render target size used for the clip-space
// transform. Must match the target recorded into.
func (p *StripPipeline) SetViewport(width, height float32) {
	if width <= 0 || height <= 0 {
		return
	}
	p.viewport = [2]float32{width, height}
	p.writeUniforms()
}

// SetColor sets the text color (straight alpha; premultiplied in the
// shader).
func (p *StripPipeline) SetColor(r, g, b, a float32) {
	p.color = [4]float32{r, g, b, a}
	p.writeUniforms()
}

// writeUniforms uploads the current uniform state.
func (p *StripPipeline) writeUniforms() {
	if p.uniformBuf == nil {
		return
	}
	p.queue.WriteBuffer(p.uniformBuf, 0, buildStripUniforms(p.viewport, p.color))
}

// bindGroupFor returns the cached bind group sampling the given atlas
// view, creating it on first use.
func (p *StripPipeline) bindGroupFor(view hal.TextureView) (hal.BindGroup, error) {
	if view == nil {
		return nil, fmt.Errorf("ggtext: nil atlas texture view")
	}
	if bg, ok := p.bindGroups[view]; ok {
		return bg, nil
	}
	bg, err := p.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "text_strip_bind_group",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: p.uniformBuf.NativeHandle(), Offset: 0, Size: stripUniformSize,
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: view.NativeHandle()}},
			{Binding: 2, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ggtext: create atlas bind group: %w", err)
	}
	p.bindGroups[view] = bg
	return bg, nil
}

// Destroy releases all GPU resources held by the pipeline. Safe to
// call multiple times.
func (p *StripPipeline) Destroy() {
	if p.device == nil {
		return
	}
	for view, bg := range p.bindGroups {
		p.device.DestroyBindGroup(bg)
		delete(p.bindGroups, view)
	}
	if p.pipeline != nil {
		p.device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		p.device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		p.device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		p.device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
	if p.sampler != nil {
		p.device.DestroySampler(p.sampler)
		p.sampler = nil
	}
	if p.uniformBuf != nil {
		p.device.DestroyBuffer(p.uniformBuf)
		p.uniformBuf = nil
	}
}

// stripVertexLayout returns the vertex buffer layout for the strip
// pipeline. Matches VertexInput in text_strip.wgsl:
//
//	slot 0, location 0: position (vec2<f32>)
//	slot 1, location 1: uv       (vec2<f32>)
//	slot 2, location 2: color    (vec2<f32>, ignored for text)
//
// Text objects bind the position buffer into slot 2; the shader never
// reads the attribute for the text paint kind.
func stripVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: stripVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
			},
		},
		{
			ArrayStride: stripVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 1},
			},
		},
		{
			ArrayStride: stripVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 2},
			},
		},
	}
}

// buildStripUniforms serializes the 32-byte StripParams uniform block.
func buildStripUniforms(viewport [2]float32, color [4]float32) []byte {
	buf := make([]byte, stripUniformSize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(viewport[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(viewport[1]))
	binary.LittleEndian.PutUint32(buf[8:12], paintKindText)
	// buf[12:16] is padding.
	for i, v := range color {
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(v))
	}
	return buf
}
