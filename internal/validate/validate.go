// Package validate applies the cross-field consistency rules to a fully
// constructed VM configuration. It is a pure function over the config:
// no external state, same input, same report.
package validate

import (
	"fmt"
	"math"

	"github.com/terabiome/vmconfig/internal/schema"
)

// Kind classifies a cross-field violation.
type Kind string

const (
	KindOverlap             Kind = "overlap"
	KindMisalignment        Kind = "misalignment"
	KindCardinalityMismatch Kind = "cardinality_mismatch"
	KindUnknownEnumVariant  Kind = "unknown_enum_variant"
	KindDanglingReference   Kind = "dangling_reference"
)

// Error names one invariant violation and the entity that caused it.
type Error struct {
	Kind    Kind
	Entity  string
	Field   string
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Entity, e.Field, e.Message)
}

// Config runs every rule against cfg and returns the complete ordered
// list of violations. A nil result means the config is valid. Rules do
// not short-circuit: the caller sees every problem in one pass.
func Config(cfg *schema.VMConfig) []Error {
	var errs []Error
	errs = append(errs, checkCPUs(cfg)...)
	errs = append(errs, checkMemoryRegions(cfg)...)
	errs = append(errs, checkLoadAddrs(cfg)...)
	errs = append(errs, checkDeviceWindows(cfg)...)
	errs = append(errs, checkHostAddrs(cfg)...)
	errs = append(errs, checkDeviceTypes(cfg)...)
	errs = append(errs, checkInterruptMode(cfg)...)
	errs = append(errs, checkHostVM(cfg)...)
	return errs
}

// checkCPUs enforces cpu_num against the physical CPU assignments.
func checkCPUs(cfg *schema.VMConfig) []Error {
	var errs []Error
	base := cfg.Base

	seen := make(map[uint64]bool, len(base.PhysCPUSets))
	for _, cpu := range base.PhysCPUSets {
		if seen[cpu] {
			errs = append(errs, Error{
				Kind:    KindCardinalityMismatch,
				Entity:  "base",
				Field:   "phys_cpu_sets",
				Message: fmt.Sprintf("physical CPU %d listed more than once", cpu),
			})
		}
		seen[cpu] = true
	}
	if len(base.PhysCPUSets) > base.CPUNum {
		errs = append(errs, Error{
			Kind:   KindCardinalityMismatch,
			Entity: "base",
			Field:  "phys_cpu_sets",
			Message: fmt.Sprintf("%d physical CPUs assigned but cpu_num is %d",
				len(base.PhysCPUSets), base.CPUNum),
		})
	}
	if base.PhysCPUIDs != nil && len(base.PhysCPUIDs) != base.CPUNum {
		errs = append(errs, Error{
			Kind:   KindCardinalityMismatch,
			Entity: "base",
			Field:  "phys_cpu_ids",
			Message: fmt.Sprintf("%d hardware CPU ids for %d vcpus",
				len(base.PhysCPUIDs), base.CPUNum),
		})
	}
	return errs
}

// checkMemoryRegions rejects empty regions and overlapping address
// spans. Intervals are half-open: [base, base+size).
func checkMemoryRegions(cfg *schema.VMConfig) []Error {
	var errs []Error
	regions := cfg.Kernel.MemoryRegions

	for i, r := range regions {
		if r.Size == 0 {
			errs = append(errs, Error{
				Kind:    KindCardinalityMismatch,
				Entity:  "kernel",
				Field:   fmt.Sprintf("memory_regions[%d]", i),
				Message: fmt.Sprintf("region at %#x has zero size", r.BaseAddr),
			})
		}
	}
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			if rangesOverlap(regions[i].BaseAddr, regions[i].Size,
				regions[j].BaseAddr, regions[j].Size) {
				errs = append(errs, Error{
					Kind:   KindOverlap,
					Entity: "kernel",
					Field:  fmt.Sprintf("memory_regions[%d]", i),
					Message: fmt.Sprintf(
						"region [%#x, %#x) overlaps memory_regions[%d] [%#x, %#x)",
						regions[i].BaseAddr, regions[i].End(),
						j, regions[j].BaseAddr, regions[j].End()),
				})
			}
		}
	}
	return errs
}

// checkLoadAddrs enforces page alignment and region containment for
// every load address the kernel table declares. The entry point is
// exempt from containment when the image is marked as already loaded
// in memory.
func checkLoadAddrs(cfg *schema.VMConfig) []Error {
	var errs []Error
	k := cfg.Kernel

	check := func(field string, addr uint64) {
		if addr%schema.PageSize != 0 {
			errs = append(errs, Error{
				Kind:   KindMisalignment,
				Entity: "kernel",
				Field:  field,
				Message: fmt.Sprintf("%#x is not aligned to %#x",
					addr, uint64(schema.PageSize)),
			})
		}
		if !insideRegions(k.MemoryRegions, addr) {
			errs = append(errs, Error{
				Kind:   KindDanglingReference,
				Entity: "kernel",
				Field:  field,
				Message: fmt.Sprintf("%#x is outside every declared memory region",
					addr),
			})
		}
	}

	check("kernel_load_addr", k.KernelLoadAddr)
	if k.BIOSLoadAddr != nil {
		check("bios_load_addr", *k.BIOSLoadAddr)
	}
	if k.DTBLoadAddr != nil {
		check("dtb_load_addr", *k.DTBLoadAddr)
	}
	if k.RamdiskLoadAddr != nil {
		check("ramdisk_load_addr", *k.RamdiskLoadAddr)
	}

	if k.ImageLocation != schema.ImageMemory && !insideRegions(k.MemoryRegions, k.EntryPoint) {
		errs = append(errs, Error{
			Kind:   KindDanglingReference,
			Entity: "kernel",
			Field:  "entry_point",
			Message: fmt.Sprintf("%#x is outside every declared memory region",
				k.EntryPoint),
		})
	}
	return errs
}

// checkDeviceWindows enforces pairwise disjoint MMIO windows across all
// emulated and passthrough devices in guest physical address space.
func checkDeviceWindows(cfg *schema.VMConfig) []Error {
	type window struct {
		entity string
		field  string
		name   string
		base   uint64
		length uint64
	}

	var windows []window
	for i, d := range cfg.Devices.EmuDevices {
		windows = append(windows, window{
			entity: "devices",
			field:  fmt.Sprintf("emu_devices[%d]", i),
			name:   d.Name,
			base:   d.BaseGPA,
			length: d.Length,
		})
	}
	for i, d := range cfg.Devices.PassthroughDevices {
		windows = append(windows, window{
			entity: "devices",
			field:  fmt.Sprintf("passthrough_devices[%d]", i),
			name:   d.Name,
			base:   d.BaseGPA,
			length: d.Length,
		})
	}

	var errs []Error
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			if rangesOverlap(a.base, a.length, b.base, b.length) {
				errs = append(errs, Error{
					Kind:   KindOverlap,
					Entity: a.entity,
					Field:  a.field,
					Message: fmt.Sprintf(
						"%q MMIO window [%#x, %#x) overlaps %s %q [%#x, %#x)",
						a.name, a.base, satEnd(a.base, a.length),
						b.field, b.name, b.base, satEnd(b.base, b.length)),
				})
			}
		}
	}
	return errs
}

// checkHostAddrs enforces base_hpa uniqueness among passthrough
// devices. This is best-effort per document: host-wide uniqueness
// across configs is the fleet's problem.
func checkHostAddrs(cfg *schema.VMConfig) []Error {
	var errs []Error
	devs := cfg.Devices.PassthroughDevices
	for i := 0; i < len(devs); i++ {
		for j := i + 1; j < len(devs); j++ {
			if devs[i].BaseHPA == devs[j].BaseHPA {
				errs = append(errs, Error{
					Kind:   KindOverlap,
					Entity: "devices",
					Field:  fmt.Sprintf("passthrough_devices[%d]", i),
					Message: fmt.Sprintf(
						"%q base_hpa %#x duplicates passthrough_devices[%d] %q",
						devs[i].Name, devs[i].BaseHPA, j, devs[j].Name),
				})
			}
		}
	}
	return errs
}

// checkDeviceTypes flags enum values outside their domain. Decode
// already rejects most of these; the checks also cover configs built
// programmatically, and emu_type survives decode on purpose so the
// whole document can still be diagnosed in one pass.
func checkDeviceTypes(cfg *schema.VMConfig) []Error {
	var errs []Error
	if !cfg.Base.VMType.Valid() {
		errs = append(errs, Error{
			Kind:    KindUnknownEnumVariant,
			Entity:  "base",
			Field:   "vm_type",
			Message: fmt.Sprintf("unknown vm type %d", int(cfg.Base.VMType)),
		})
	}
	if !cfg.Kernel.ImageLocation.Valid() {
		errs = append(errs, Error{
			Kind:    KindUnknownEnumVariant,
			Entity:  "kernel",
			Field:   "image_location",
			Message: fmt.Sprintf("unknown image location %q", string(cfg.Kernel.ImageLocation)),
		})
	}
	for i, d := range cfg.Devices.EmuDevices {
		if !d.EmuType.Valid() {
			errs = append(errs, Error{
				Kind:    KindUnknownEnumVariant,
				Entity:  "devices",
				Field:   fmt.Sprintf("emu_devices[%d]", i),
				Message: fmt.Sprintf("%q has unknown emu_type %#x", d.Name, int(d.EmuType)),
			})
		}
	}
	return errs
}

// checkInterruptMode requires a device capable of backing the declared
// interrupt mode.
func checkInterruptMode(cfg *schema.VMConfig) []Error {
	var errs []Error
	switch cfg.Devices.InterruptMode {
	case schema.InterruptPassthrough:
		ok := false
		for _, d := range cfg.Devices.PassthroughDevices {
			if d.IRQ != 0 {
				ok = true
				break
			}
		}
		if !ok {
			errs = append(errs, Error{
				Kind:    KindDanglingReference,
				Entity:  "devices",
				Field:   "interrupt_mode",
				Message: "passthrough mode requires a passthrough device with a non-zero irq_id",
			})
		}
	case schema.InterruptEmulated:
		ok := false
		for _, d := range cfg.Devices.EmuDevices {
			if d.EmuType.InterruptCapable() {
				ok = true
				break
			}
		}
		if !ok {
			errs = append(errs, Error{
				Kind:    KindDanglingReference,
				Entity:  "devices",
				Field:   "interrupt_mode",
				Message: "emulated mode requires an interrupt-controller-capable emulated device",
			})
		}
	}
	return errs
}

// checkHostVM forbids emulated devices on host-boot guests, which
// assume full passthrough.
func checkHostVM(cfg *schema.VMConfig) []Error {
	if cfg.Base.VMType != schema.VMTypeHostVM {
		return nil
	}
	var errs []Error
	for i, d := range cfg.Devices.EmuDevices {
		errs = append(errs, Error{
			Kind:    KindDanglingReference,
			Entity:  "devices",
			Field:   fmt.Sprintf("emu_devices[%d]", i),
			Message: fmt.Sprintf("host_vm guests cannot emulate devices, found %q", d.Name),
		})
	}
	return errs
}

func rangesOverlap(base1, len1, base2, len2 uint64) bool {
	return base1 < satEnd(base2, len2) && base2 < satEnd(base1, len1)
}

// satEnd saturates base+length at the top of the address space. A
// wrapping sum cannot come from TOML input, but configs built in code
// can carry one, and a wrapped end would hide a real overlap.
func satEnd(base, length uint64) uint64 {
	if end := base + length; end >= base {
		return end
	}
	return math.MaxUint64
}

func insideRegions(regions []schema.MemoryRegion, addr uint64) bool {
	for _, r := range regions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}
