package ggtext

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// compileShaderToSPIRV compiles WGSL source to a SPIR-V uint32 slice
// via naga. Used when PipelineConfig.ValidateSPIRV is set: the
// cross-compile catches shader errors on backends whose WGSL frontend
// is more permissive than the SPIR-V path.
func compileShaderToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("ggtext: compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// createShaderModule creates the strip shader module, either from the
// WGSL source directly or from the naga SPIR-V cross-compile.
func createShaderModule(device hal.Device, label, wgsl string, validateSPIRV bool) (hal.ShaderModule, error) {
	if wgsl == "" {
		return nil, ErrShaderSourceEmpty
	}
	if validateSPIRV {
		spirv, err := compileShaderToSPIRV(wgsl)
		if err != nil {
			return nil, err
		}
		return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  label,
			Source: hal.ShaderSource{SPIRV: spirv},
		})
	}
	return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: wgsl},
	})
}
