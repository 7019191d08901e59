// Package template synthesizes complete, validator-passing VM
// configurations from an architecture's compiled-in defaults plus a
// sparse set of user overrides.
package template

import (
	"fmt"
	"slices"
	"strings"

	"github.com/terabiome/vmconfig/internal/schema"
)

// Arch tags one of the supported guest architectures.
type Arch string

const (
	ArchRISCV64 Arch = "riscv64"
	ArchAArch64 Arch = "aarch64"
	ArchX86_64  Arch = "x86_64"
)

// Arches lists the supported architectures in a stable order.
func Arches() []Arch {
	return []Arch{ArchRISCV64, ArchAArch64, ArchX86_64}
}

// ParseArch resolves a user-supplied architecture tag.
func ParseArch(s string) (Arch, error) {
	switch Arch(strings.ToLower(s)) {
	case ArchRISCV64:
		return ArchRISCV64, nil
	case ArchAArch64:
		return ArchAArch64, nil
	case ArchX86_64:
		return ArchX86_64, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: riscv64, aarch64, x86_64)", s)
}

// Default returns a deep copy of the architecture's baseline
// configuration. Every baseline passes the validator with no overrides
// applied.
func Default(arch Arch) (*schema.VMConfig, error) {
	var base schema.VMConfig
	switch arch {
	case ArchRISCV64:
		base = riscv64Default
	case ArchAArch64:
		base = aarch64Default
	case ArchX86_64:
		base = x8664Default
	default:
		return nil, fmt.Errorf("unsupported architecture %q", arch)
	}
	cfg := base
	cfg.Base.PhysCPUIDs = slices.Clone(base.Base.PhysCPUIDs)
	cfg.Base.PhysCPUSets = slices.Clone(base.Base.PhysCPUSets)
	cfg.Kernel.MemoryRegions = slices.Clone(base.Kernel.MemoryRegions)
	cfg.Devices.EmuDevices = slices.Clone(base.Devices.EmuDevices)
	cfg.Devices.PassthroughDevices = slices.Clone(base.Devices.PassthroughDevices)
	for i, d := range cfg.Devices.EmuDevices {
		cfg.Devices.EmuDevices[i].ConfigList = slices.Clone(d.ConfigList)
	}
	return &cfg, nil
}

// riscv64Default boots an RTOS guest from the standard RISC-V DRAM base
// with the PLIC and a 8250 UART passed through.
var riscv64Default = schema.VMConfig{
	Base: schema.BaseConfig{
		ID:         0,
		Name:       "GuestVM-riscv64",
		VMType:     schema.VMTypeRTOS,
		CPUNum:     1,
		PhysCPUIDs: []uint64{0},
	},
	Kernel: schema.KernelConfig{
		EntryPoint:     0x8020_0000,
		KernelPath:     "kernel-riscv64.bin",
		KernelLoadAddr: 0x8020_0000,
		ImageLocation:  schema.ImageFileSystem,
		MemoryRegions: []schema.MemoryRegion{
			// 128 MiB of DRAM at the platform DRAM base.
			{
				BaseAddr:   0x8000_0000,
				Size:       0x800_0000,
				Flags:      schema.MemFlagRead | schema.MemFlagWrite | schema.MemFlagExecute,
				RegionType: schema.RegionRAM,
			},
		},
	},
	Devices: schema.DevicesConfig{
		PassthroughDevices: []schema.PassthroughDevice{
			{Name: "plic", BaseGPA: 0x0c00_0000, BaseHPA: 0x0c00_0000, Length: 0x0400_0000, IRQ: 1},
			{Name: "uart8250", BaseGPA: 0x1000_0000, BaseHPA: 0x1000_0000, Length: 0x1000, IRQ: 10},
		},
		InterruptMode: schema.InterruptPassthrough,
	},
}

// aarch64Default boots an RTOS guest above the QEMU virt DRAM base with
// an emulated GIC distributor and pl011 console.
var aarch64Default = schema.VMConfig{
	Base: schema.BaseConfig{
		ID:         0,
		Name:       "GuestVM-aarch64",
		VMType:     schema.VMTypeRTOS,
		CPUNum:     1,
		PhysCPUIDs: []uint64{0},
	},
	Kernel: schema.KernelConfig{
		EntryPoint:     0x4008_0000,
		KernelPath:     "kernel-aarch64.bin",
		KernelLoadAddr: 0x4008_0000,
		ImageLocation:  schema.ImageFileSystem,
		MemoryRegions: []schema.MemoryRegion{
			{
				BaseAddr:   0x4000_0000,
				Size:       0x800_0000,
				Flags:      schema.MemFlagRead | schema.MemFlagWrite | schema.MemFlagExecute,
				RegionType: schema.RegionRAM,
			},
		},
	},
	Devices: schema.DevicesConfig{
		EmuDevices: []schema.EmulatedDevice{
			{Name: "intc", BaseGPA: 0x0800_0000, Length: 0x1_0000, IRQ: 0,
				EmuType: schema.EmuInterruptController, ConfigList: []uint64{}},
			{Name: "pl011", BaseGPA: 0x0900_0000, Length: 0x1000, IRQ: 33,
				EmuType: schema.EmuConsole, ConfigList: []uint64{}},
		},
		InterruptMode: schema.InterruptEmulated,
	},
}

// x8664Default boots an RTOS guest in low memory with an emulated local
// APIC.
var x8664Default = schema.VMConfig{
	Base: schema.BaseConfig{
		ID:         0,
		Name:       "GuestVM-x86_64",
		VMType:     schema.VMTypeRTOS,
		CPUNum:     1,
		PhysCPUIDs: []uint64{0},
	},
	Kernel: schema.KernelConfig{
		EntryPoint:     0x20_0000,
		KernelPath:     "kernel-x86_64.bin",
		KernelLoadAddr: 0x20_0000,
		ImageLocation:  schema.ImageFileSystem,
		MemoryRegions: []schema.MemoryRegion{
			// 64 MiB of low memory.
			{
				BaseAddr:   0x0,
				Size:       0x400_0000,
				Flags:      schema.MemFlagRead | schema.MemFlagWrite | schema.MemFlagExecute,
				RegionType: schema.RegionRAM,
			},
		},
	},
	Devices: schema.DevicesConfig{
		EmuDevices: []schema.EmulatedDevice{
			{Name: "apic", BaseGPA: 0xfee0_0000, Length: 0x1000, IRQ: 0,
				EmuType: schema.EmuInterruptController, ConfigList: []uint64{}},
		},
		InterruptMode: schema.InterruptEmulated,
	},
}
