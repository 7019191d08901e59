// Package schema defines the typed representation of a guest VM
// configuration document and its conversion to and from the TOML wire
// form. Shape and per-field range checks live here; cross-field rules
// live in internal/validate.
package schema

import (
	"fmt"
	"math"
	"strings"
)

// PageSize is the platform page granularity. Kernel, BIOS, DTB and
// ramdisk load addresses must be aligned to it.
const PageSize = 0x1000

// VMType selects which validation rules and generation defaults apply
// to a guest.
type VMType int

const (
	// VMTypeHostVM boots from the host OS (jailhouse-style "type 1.5");
	// all of its devices are passed through.
	VMTypeHostVM VMType = 0
	// VMTypeRTOS is a simple guest with most resources passed through.
	VMTypeRTOS VMType = 1
	// VMTypeLinux is a full-featured guest with device emulation.
	VMTypeLinux VMType = 2
)

func (t VMType) String() string {
	switch t {
	case VMTypeHostVM:
		return "host_vm"
	case VMTypeRTOS:
		return "rtos"
	case VMTypeLinux:
		return "linux"
	}
	return fmt.Sprintf("vm_type(%d)", int(t))
}

// Valid reports whether t is a known VM type.
func (t VMType) Valid() bool {
	return t >= VMTypeHostVM && t <= VMTypeLinux
}

// MemFlags is the access flag bitmask of a memory region.
type MemFlags uint64

const (
	MemFlagRead     MemFlags = 1 << 0
	MemFlagWrite    MemFlags = 1 << 1
	MemFlagExecute  MemFlags = 1 << 2
	MemFlagUser     MemFlags = 1 << 3
	MemFlagDevice   MemFlags = 1 << 4
	MemFlagUncached MemFlags = 1 << 5

	memFlagsMask = MemFlagRead | MemFlagWrite | MemFlagExecute |
		MemFlagUser | MemFlagDevice | MemFlagUncached
)

// Valid reports whether only known flag bits are set.
func (f MemFlags) Valid() bool {
	return f&^memFlagsMask == 0
}

// RegionType classifies a guest memory region.
type RegionType int

const (
	RegionRAM      RegionType = 0
	RegionReserved RegionType = 1
	RegionDevice   RegionType = 2
)

func (t RegionType) String() string {
	switch t {
	case RegionRAM:
		return "ram"
	case RegionReserved:
		return "reserved"
	case RegionDevice:
		return "device"
	}
	return fmt.Sprintf("region_type(%d)", int(t))
}

// Valid reports whether t is a known region type.
func (t RegionType) Valid() bool {
	return t >= RegionRAM && t <= RegionDevice
}

// MemoryRegion is one guest physical address range. On the wire it is
// the positional tuple [base_addr, size, flags, region_type].
type MemoryRegion struct {
	BaseAddr   uint64
	Size       uint64
	Flags      MemFlags
	RegionType RegionType
}

// End returns the exclusive upper bound of the region, clamped to the
// top of the address space when base+size would wrap.
func (r MemoryRegion) End() uint64 {
	return satEnd(r.BaseAddr, r.Size)
}

// Contains reports whether addr falls inside [BaseAddr, BaseAddr+Size).
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.BaseAddr && addr < r.End()
}

// EmulatedDeviceType identifies an emulated device implementation.
//
// Allocation scheme:
//   - 0x00-0x1f: special and abstract device types
//   - 0x20-0x2f: architecture-specific interrupt controller devices
//   - 0xe0-0xef: virtio devices
type EmulatedDeviceType int

const (
	EmuDummy               EmulatedDeviceType = 0x00
	EmuInterruptController EmulatedDeviceType = 0x01
	EmuConsole             EmulatedDeviceType = 0x02
	EmuIVCChannel          EmulatedDeviceType = 0x0a
	EmuGPPTRedistributor   EmulatedDeviceType = 0x20
	EmuGPPTDistributor     EmulatedDeviceType = 0x21
	EmuGPPTITS             EmulatedDeviceType = 0x22
	EmuVirtioBlk           EmulatedDeviceType = 0xe1
	EmuVirtioNet           EmulatedDeviceType = 0xe2
	EmuVirtioConsole       EmulatedDeviceType = 0xe3
)

func (t EmulatedDeviceType) String() string {
	switch t {
	case EmuDummy:
		return "dummy"
	case EmuInterruptController:
		return "interrupt controller"
	case EmuConsole:
		return "console"
	case EmuIVCChannel:
		return "ivc channel"
	case EmuGPPTRedistributor:
		return "gic partial passthrough redistributor"
	case EmuGPPTDistributor:
		return "gic partial passthrough distributor"
	case EmuGPPTITS:
		return "gic partial passthrough its"
	case EmuVirtioBlk:
		return "virtio block"
	case EmuVirtioNet:
		return "virtio net"
	case EmuVirtioConsole:
		return "virtio console"
	}
	return fmt.Sprintf("emu_type(%#x)", int(t))
}

// Valid reports whether t is a known emulated device type.
func (t EmulatedDeviceType) Valid() bool {
	switch t {
	case EmuDummy, EmuInterruptController, EmuConsole, EmuIVCChannel,
		EmuGPPTRedistributor, EmuGPPTDistributor, EmuGPPTITS,
		EmuVirtioBlk, EmuVirtioNet, EmuVirtioConsole:
		return true
	}
	return false
}

// InterruptCapable reports whether a device of this type can act as the
// guest's interrupt controller.
func (t EmulatedDeviceType) InterruptCapable() bool {
	switch t {
	case EmuInterruptController, EmuGPPTRedistributor,
		EmuGPPTDistributor, EmuGPPTITS:
		return true
	}
	return false
}

// ParamArity returns the smallest and largest config_list length
// accepted for this device type. A max of -1 means unbounded.
func (t EmulatedDeviceType) ParamArity() (min, max int) {
	switch t {
	case EmuDummy:
		return 0, -1
	case EmuIVCChannel:
		// shared memory key, plus an optional peer VM id
		return 1, 2
	case EmuVirtioBlk, EmuVirtioNet:
		return 0, 2
	case EmuVirtioConsole, EmuConsole:
		return 0, 1
	default:
		return 0, 0
	}
}

// EmulatedDevice describes one device synthesized by the hypervisor.
// On the wire it is the tuple
// [name, base_gpa, length, irq_id, emu_type, config_list].
type EmulatedDevice struct {
	Name       string
	BaseGPA    uint64
	Length     uint64
	IRQ        uint32
	EmuType    EmulatedDeviceType
	ConfigList []uint64
}

// End returns the exclusive upper bound of the device MMIO window,
// clamped to the top of the address space.
func (d EmulatedDevice) End() uint64 {
	return satEnd(d.BaseGPA, d.Length)
}

// PassthroughDevice describes one physical device exposed directly to
// the guest. On the wire it is the tuple
// [name, base_gpa, base_hpa, length, irq_id].
type PassthroughDevice struct {
	Name    string
	BaseGPA uint64
	BaseHPA uint64
	Length  uint64
	IRQ     uint32
}

// End returns the exclusive upper bound of the device MMIO window in
// guest physical address space, clamped to the top of the address
// space.
func (d PassthroughDevice) End() uint64 {
	return satEnd(d.BaseGPA, d.Length)
}

// satEnd computes base+length, saturating at the top of the address
// space instead of wrapping. TOML integers cannot produce a wrapping
// sum, but configs built in code can.
func satEnd(base, length uint64) uint64 {
	if end := base + length; end >= base {
		return end
	}
	return math.MaxUint64
}

// InterruptMode specifies how the guest handles interrupts.
type InterruptMode int

const (
	// InterruptNoIrq disables interrupt delivery entirely.
	InterruptNoIrq InterruptMode = iota
	// InterruptEmulated routes interrupts through an emulated
	// interrupt controller.
	InterruptEmulated
	// InterruptPassthrough routes interrupts through a passthrough
	// (possibly partially passed-through) interrupt controller.
	InterruptPassthrough
)

// String returns the canonical wire spelling of the mode.
func (m InterruptMode) String() string {
	switch m {
	case InterruptNoIrq:
		return "no_irq"
	case InterruptEmulated:
		return "emu"
	case InterruptPassthrough:
		return "passthrough"
	}
	return fmt.Sprintf("interrupt_mode(%d)", int(m))
}

// MarshalText renders the canonical spelling for the TOML encoder.
func (m InterruptMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseInterruptMode accepts the canonical spellings and their aliases:
// "no_irq"/"no"/"none", "emu"/"emulated" and "passthrough"/"pt".
func ParseInterruptMode(s string) (InterruptMode, bool) {
	switch strings.ToLower(s) {
	case "no_irq", "no", "none":
		return InterruptNoIrq, true
	case "emu", "emulated":
		return InterruptEmulated, true
	case "passthrough", "pt":
		return InterruptPassthrough, true
	}
	return InterruptNoIrq, false
}

// ImageLocation tells the loader where to find the kernel image.
type ImageLocation string

const (
	// ImageFileSystem loads the kernel from a path inside the host
	// root filesystem.
	ImageFileSystem ImageLocation = "fs"
	// ImageMemory expects the kernel to already be present in memory.
	ImageMemory ImageLocation = "memory"
)

// Valid reports whether l is a known image location.
func (l ImageLocation) Valid() bool {
	return l == ImageFileSystem || l == ImageMemory
}

// BaseConfig is the [base] table: guest identity and CPU resources.
type BaseConfig struct {
	ID     uint32 `toml:"id"`
	Name   string `toml:"name"`
	VMType VMType `toml:"vm_type"`
	CPUNum int    `toml:"cpu_num"`
	// PhysCPUIDs holds per-vcpu physical hardware CPU ids (for
	// example MPIDR_EL1 values on ARM platforms). When present its
	// length must equal CPUNum.
	PhysCPUIDs []uint64 `toml:"phys_cpu_ids,omitempty"`
	// PhysCPUSets restricts which physical CPUs may run this guest.
	PhysCPUSets []uint64 `toml:"phys_cpu_sets,omitempty"`
}

// KernelConfig is the [kernel] table: boot images and memory layout.
type KernelConfig struct {
	EntryPoint      uint64         `toml:"entry_point"`
	KernelPath      string         `toml:"kernel_path"`
	KernelLoadAddr  uint64         `toml:"kernel_load_addr"`
	BIOSPath        *string        `toml:"bios_path,omitempty"`
	BIOSLoadAddr    *uint64        `toml:"bios_load_addr,omitempty"`
	DTBPath         *string        `toml:"dtb_path,omitempty"`
	DTBLoadAddr     *uint64        `toml:"dtb_load_addr,omitempty"`
	RamdiskPath     *string        `toml:"ramdisk_path,omitempty"`
	RamdiskLoadAddr *uint64        `toml:"ramdisk_load_addr,omitempty"`
	ImageLocation   ImageLocation  `toml:"image_location"`
	Cmdline         *string        `toml:"cmdline,omitempty"`
	DiskPath        *string        `toml:"disk_path,omitempty"`
	MemoryRegions   []MemoryRegion `toml:"memory_regions"`
}

// DevicesConfig is the [devices] table.
type DevicesConfig struct {
	EmuDevices         []EmulatedDevice    `toml:"emu_devices"`
	PassthroughDevices []PassthroughDevice `toml:"passthrough_devices"`
	InterruptMode      InterruptMode       `toml:"interrupt_mode"`
}

// VMConfig is the root of a guest configuration document. Instances are
// built by Load or by internal/template, validated once as a unit, and
// never mutated afterwards.
type VMConfig struct {
	Base    BaseConfig    `toml:"base"`
	Kernel  KernelConfig  `toml:"kernel"`
	Devices DevicesConfig `toml:"devices"`
}
