package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabiome/vmconfig/internal/schema"
)

// validConfig returns a minimal config that passes every rule. Tests
// mutate a copy to trigger individual violations.
func validConfig() *schema.VMConfig {
	return &schema.VMConfig{
		Base: schema.BaseConfig{
			ID:     1,
			Name:   "guest",
			VMType: schema.VMTypeRTOS,
			CPUNum: 2,
		},
		Kernel: schema.KernelConfig{
			EntryPoint:     0x80200000,
			KernelPath:     "kernel.bin",
			KernelLoadAddr: 0x80200000,
			ImageLocation:  schema.ImageFileSystem,
			MemoryRegions: []schema.MemoryRegion{
				{BaseAddr: 0x80000000, Size: 0x1000000,
					Flags:      schema.MemFlagRead | schema.MemFlagWrite | schema.MemFlagExecute,
					RegionType: schema.RegionRAM},
			},
		},
		Devices: schema.DevicesConfig{
			InterruptMode: schema.InterruptNoIrq,
		},
	}
}

func kindsOf(errs []Error) []Kind {
	kinds := make([]Kind, len(errs))
	for i, e := range errs {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestConfig_Valid(t *testing.T) {
	assert.Empty(t, Config(validConfig()))
}

func TestConfig_DuplicatePhysCPUs(t *testing.T) {
	cfg := validConfig()
	cfg.Base.CPUNum = 2
	cfg.Base.PhysCPUSets = []uint64{0, 0}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindCardinalityMismatch, errs[0].Kind)
	assert.Equal(t, "phys_cpu_sets", errs[0].Field)
}

func TestConfig_TooManyPhysCPUs(t *testing.T) {
	cfg := validConfig()
	cfg.Base.CPUNum = 1
	cfg.Base.PhysCPUSets = []uint64{0, 1}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindCardinalityMismatch, errs[0].Kind)
}

func TestConfig_PhysCPUIDCount(t *testing.T) {
	cfg := validConfig()
	cfg.Base.CPUNum = 2
	cfg.Base.PhysCPUIDs = []uint64{0x500}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindCardinalityMismatch, errs[0].Kind)
	assert.Equal(t, "phys_cpu_ids", errs[0].Field)
}

func TestConfig_OverlappingMemoryRegions(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.MemoryRegions = []schema.MemoryRegion{
		{BaseAddr: 0x80000000, Size: 0x1000000, Flags: schema.MemFlagRead, RegionType: schema.RegionRAM},
		{BaseAddr: 0x80800000, Size: 0x1000000, Flags: schema.MemFlagRead, RegionType: schema.RegionRAM},
	}

	errs := Config(cfg)
	require.NotEmpty(t, errs)
	overlap := errs[0]
	assert.Equal(t, KindOverlap, overlap.Kind)
	// The report names both regions.
	assert.Equal(t, "memory_regions[0]", overlap.Field)
	assert.Contains(t, overlap.Message, "memory_regions[1]")
}

func TestConfig_AdjacentRegionsDoNotOverlap(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.MemoryRegions = []schema.MemoryRegion{
		{BaseAddr: 0x80000000, Size: 0x1000000, Flags: schema.MemFlagRead, RegionType: schema.RegionRAM},
		{BaseAddr: 0x81000000, Size: 0x1000000, Flags: schema.MemFlagRead, RegionType: schema.RegionRAM},
	}
	assert.Empty(t, Config(cfg))
}

func TestConfig_OverlapAtAddressSpaceTop(t *testing.T) {
	// base+size wraps uint64 for the first region; the wrapped end must
	// not hide its overlap with the second.
	cfg := validConfig()
	cfg.Kernel.MemoryRegions = append(cfg.Kernel.MemoryRegions,
		schema.MemoryRegion{BaseAddr: 0xffffffffffff0000, Size: 0x20000,
			Flags: schema.MemFlagRead, RegionType: schema.RegionDevice},
		schema.MemoryRegion{BaseAddr: 0xffffffffffff8000, Size: 0x1000,
			Flags: schema.MemFlagRead, RegionType: schema.RegionDevice})

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindOverlap, errs[0].Kind)
	assert.Equal(t, "memory_regions[1]", errs[0].Field)
	assert.Contains(t, errs[0].Message, "memory_regions[2]")
}

func TestConfig_ZeroSizeRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.MemoryRegions = append(cfg.Kernel.MemoryRegions,
		schema.MemoryRegion{BaseAddr: 0x90000000, Size: 0, Flags: schema.MemFlagRead, RegionType: schema.RegionRAM})

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindCardinalityMismatch, errs[0].Kind)
	assert.Equal(t, "memory_regions[1]", errs[0].Field)
}

func TestConfig_MisalignedLoadAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.KernelLoadAddr = 0x80200001

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindMisalignment, errs[0].Kind)
	assert.Equal(t, "kernel_load_addr", errs[0].Field)
}

func TestConfig_AlignedLoadAddrInsideRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.KernelLoadAddr = 0x80200000
	cfg.Kernel.MemoryRegions = []schema.MemoryRegion{
		{BaseAddr: 0x80000000, Size: 0x1000000,
			Flags:      schema.MemFlagRead | schema.MemFlagWrite | schema.MemFlagExecute,
			RegionType: schema.RegionRAM},
	}
	assert.Empty(t, Config(cfg))
}

func TestConfig_LoadAddrOutsideRegions(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.KernelLoadAddr = 0xf0000000
	cfg.Kernel.EntryPoint = 0xf0000000

	errs := Config(cfg)
	require.Len(t, errs, 2)
	assert.Equal(t, KindDanglingReference, errs[0].Kind)
	assert.Equal(t, "kernel_load_addr", errs[0].Field)
	assert.Equal(t, "entry_point", errs[1].Field)
}

func TestConfig_EntryPointExemptWhenImageInMemory(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.ImageLocation = schema.ImageMemory
	cfg.Kernel.EntryPoint = 0xdeadb000

	assert.Empty(t, Config(cfg))
}

func TestConfig_SupplementalLoadAddrs(t *testing.T) {
	cfg := validConfig()
	dtbAddr := uint64(0x80300001)
	cfg.Kernel.DTBLoadAddr = &dtbAddr

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindMisalignment, errs[0].Kind)
	assert.Equal(t, "dtb_load_addr", errs[0].Field)
}

func TestConfig_DeviceWindowOverlap(t *testing.T) {
	cfg := validConfig()
	cfg.Devices.EmuDevices = []schema.EmulatedDevice{
		{Name: "gic", BaseGPA: 0x08000000, Length: 0x20000, EmuType: schema.EmuInterruptController, ConfigList: []uint64{}},
	}
	cfg.Devices.PassthroughDevices = []schema.PassthroughDevice{
		{Name: "uart", BaseGPA: 0x08010000, BaseHPA: 0x09000000, Length: 0x1000, IRQ: 33},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindOverlap, errs[0].Kind)
	assert.Contains(t, errs[0].Message, "gic")
	assert.Contains(t, errs[0].Message, "uart")
}

func TestConfig_DuplicateHostAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Devices.PassthroughDevices = []schema.PassthroughDevice{
		{Name: "dev0", BaseGPA: 0x08000000, BaseHPA: 0x09000000, Length: 0x1000, IRQ: 1},
		{Name: "dev1", BaseGPA: 0x08001000, BaseHPA: 0x09000000, Length: 0x1000, IRQ: 2},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindOverlap, errs[0].Kind)
	assert.Contains(t, errs[0].Message, "base_hpa")
}

func TestConfig_UnknownEmuType(t *testing.T) {
	cfg := validConfig()
	cfg.Devices.EmuDevices = []schema.EmulatedDevice{
		{Name: "mystery", BaseGPA: 0x08000000, Length: 0x1000, EmuType: schema.EmulatedDeviceType(0x99)},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindUnknownEnumVariant, errs[0].Kind)
}

func TestConfig_PassthroughModeNeedsIRQ(t *testing.T) {
	cfg := validConfig()
	cfg.Devices.InterruptMode = schema.InterruptPassthrough
	cfg.Devices.PassthroughDevices = []schema.PassthroughDevice{
		{Name: "dev0", BaseGPA: 0x08000000, BaseHPA: 0x09000000, Length: 0x1000, IRQ: 0},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindDanglingReference, errs[0].Kind)
	assert.Equal(t, "interrupt_mode", errs[0].Field)

	cfg.Devices.PassthroughDevices[0].IRQ = 9
	assert.Empty(t, Config(cfg))
}

func TestConfig_EmulatedModeNeedsController(t *testing.T) {
	cfg := validConfig()
	cfg.Devices.InterruptMode = schema.InterruptEmulated
	cfg.Devices.EmuDevices = []schema.EmulatedDevice{
		{Name: "blk", BaseGPA: 0x08000000, Length: 0x1000, EmuType: schema.EmuVirtioBlk, ConfigList: []uint64{}},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindDanglingReference, errs[0].Kind)

	cfg.Devices.EmuDevices = append(cfg.Devices.EmuDevices, schema.EmulatedDevice{
		Name: "gppt-rd", BaseGPA: 0x08100000, Length: 0x20000,
		EmuType: schema.EmuGPPTRedistributor, ConfigList: []uint64{},
	})
	assert.Empty(t, Config(cfg))
}

func TestConfig_HostVMForbidsEmulatedDevices(t *testing.T) {
	cfg := validConfig()
	cfg.Base.VMType = schema.VMTypeHostVM
	cfg.Devices.EmuDevices = []schema.EmulatedDevice{
		{Name: "console", BaseGPA: 0x09000000, Length: 0x1000, EmuType: schema.EmuConsole, ConfigList: []uint64{}},
	}

	errs := Config(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, KindDanglingReference, errs[0].Kind)
	assert.Equal(t, "emu_devices[0]", errs[0].Field)
	assert.Contains(t, errs[0].Message, "console")
}

func TestConfig_ReportsEveryViolation(t *testing.T) {
	cfg := validConfig()
	cfg.Base.PhysCPUSets = []uint64{0, 0, 1}
	cfg.Kernel.KernelLoadAddr = 0x80200001
	cfg.Devices.InterruptMode = schema.InterruptPassthrough

	errs := Config(cfg)
	assert.Equal(t, []Kind{
		KindCardinalityMismatch,
		KindCardinalityMismatch,
		KindMisalignment,
		KindDanglingReference,
	}, kindsOf(errs))
}
