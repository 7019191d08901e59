package template

import (
	"fmt"
	"strings"

	"github.com/terabiome/vmconfig/internal/schema"
	"github.com/terabiome/vmconfig/internal/validate"
)

// Overrides carries the user-supplied generation parameters. A nil
// field leaves the architecture default untouched; a present field
// replaces the default wholesale.
type Overrides struct {
	ID             *uint32
	Name           *string
	VMType         *schema.VMType
	CPUNum         *int
	EntryPoint     *uint64
	KernelPath     *string
	KernelLoadAddr *uint64
	ImageLocation  *schema.ImageLocation
	Cmdline        *string
}

// GenerationError means the generated document failed validation, for
// example because an override moved the kernel outside the default
// memory layout. The generator never emits an invalid document.
type GenerationError struct {
	Arch       Arch
	Violations []validate.Error
}

func (e *GenerationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("generated %s config is invalid: %s",
		e.Arch, strings.Join(msgs, "; "))
}

// Generate builds a complete configuration for arch by applying ov on
// top of the architecture defaults, then validates the result. With no
// overrides the defaults themselves are returned and always validate.
func Generate(arch Arch, ov Overrides) (*schema.VMConfig, error) {
	cfg, err := Default(arch)
	if err != nil {
		return nil, err
	}

	if ov.ID != nil {
		cfg.Base.ID = *ov.ID
	}
	if ov.Name != nil {
		cfg.Base.Name = *ov.Name
	}
	if ov.VMType != nil {
		cfg.Base.VMType = *ov.VMType
	}
	if ov.CPUNum != nil {
		cfg.Base.CPUNum = *ov.CPUNum
		// The default CPU id assignment tracks cpu_num: vcpu i runs on
		// physical CPU i.
		ids := make([]uint64, *ov.CPUNum)
		for i := range ids {
			ids[i] = uint64(i)
		}
		cfg.Base.PhysCPUIDs = ids
	}
	if ov.EntryPoint != nil {
		cfg.Kernel.EntryPoint = *ov.EntryPoint
	}
	if ov.KernelPath != nil {
		cfg.Kernel.KernelPath = *ov.KernelPath
	}
	if ov.KernelLoadAddr != nil {
		cfg.Kernel.KernelLoadAddr = *ov.KernelLoadAddr
	}
	if ov.ImageLocation != nil {
		cfg.Kernel.ImageLocation = *ov.ImageLocation
	}
	if ov.Cmdline != nil {
		cfg.Kernel.Cmdline = ov.Cmdline
	}

	if violations := validate.Config(cfg); len(violations) > 0 {
		return nil, &GenerationError{Arch: arch, Violations: violations}
	}
	return cfg, nil
}
