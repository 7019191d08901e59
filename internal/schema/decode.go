package schema

import (
	"errors"
	"fmt"
	"math"

	"github.com/BurntSushi/toml"
)

// Load parses a TOML document and builds a VMConfig from it. Syntax
// errors surface as *ParseError; well-formed documents whose values
// violate a field's shape or range surface as *Error. Load performs no
// cross-field checks.
func Load(data []byte) (*VMConfig, error) {
	var tree map[string]any
	if _, err := toml.Decode(string(data), &tree); err != nil {
		var pe toml.ParseError
		if errors.As(err, &pe) {
			return nil, &ParseError{
				Line:    pe.Position.Line,
				Offset:  pe.Position.Start,
				Message: pe.Message,
			}
		}
		return nil, &ParseError{Offset: -1, Message: err.Error()}
	}
	return fromTree(tree)
}

func fromTree(tree map[string]any) (*VMConfig, error) {
	var cfg VMConfig

	base, err := requireTable(tree, "base")
	if err != nil {
		return nil, err
	}
	if err := decodeBase(base, &cfg.Base); err != nil {
		return nil, err
	}

	kernel, err := requireTable(tree, "kernel")
	if err != nil {
		return nil, err
	}
	if err := decodeKernel(kernel, &cfg.Kernel); err != nil {
		return nil, err
	}

	devices, err := requireTable(tree, "devices")
	if err != nil {
		return nil, err
	}
	if err := decodeDevices(devices, &cfg.Devices); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeBase(t table, out *BaseConfig) error {
	id, err := t.requireUint("id")
	if err != nil {
		return err
	}
	if id > math.MaxUint32 {
		return outOfRange(t.name, "id", fmt.Sprintf("%d exceeds 32 bits", id))
	}
	out.ID = uint32(id)

	if out.Name, err = t.requireString("name"); err != nil {
		return err
	}
	if out.Name == "" {
		return outOfRange(t.name, "name", "must not be empty")
	}

	vmType, err := t.requireUint("vm_type")
	if err != nil {
		return err
	}
	out.VMType = VMType(vmType)
	if !out.VMType.Valid() {
		return outOfRange(t.name, "vm_type", fmt.Sprintf("unknown vm type %d", vmType))
	}

	cpuNum, err := t.requireUint("cpu_num")
	if err != nil {
		return err
	}
	if cpuNum == 0 {
		return outOfRange(t.name, "cpu_num", "must be positive")
	}
	out.CPUNum = int(cpuNum)

	if out.PhysCPUIDs, err = t.optionalUintList("phys_cpu_ids"); err != nil {
		return err
	}
	if out.PhysCPUSets, err = t.optionalUintList("phys_cpu_sets"); err != nil {
		return err
	}
	return nil
}

func decodeKernel(t table, out *KernelConfig) error {
	var err error
	if out.EntryPoint, err = t.requireUint("entry_point"); err != nil {
		return err
	}
	if out.KernelPath, err = t.requireString("kernel_path"); err != nil {
		return err
	}
	if out.KernelPath == "" {
		return outOfRange(t.name, "kernel_path", "must not be empty")
	}
	if out.KernelLoadAddr, err = t.requireUint("kernel_load_addr"); err != nil {
		return err
	}

	if out.BIOSPath, err = t.optionalString("bios_path"); err != nil {
		return err
	}
	if out.BIOSLoadAddr, err = t.optionalUint("bios_load_addr"); err != nil {
		return err
	}
	if out.DTBPath, err = t.optionalString("dtb_path"); err != nil {
		return err
	}
	if out.DTBLoadAddr, err = t.optionalUint("dtb_load_addr"); err != nil {
		return err
	}
	if out.RamdiskPath, err = t.optionalString("ramdisk_path"); err != nil {
		return err
	}
	if out.RamdiskLoadAddr, err = t.optionalUint("ramdisk_load_addr"); err != nil {
		return err
	}
	if out.Cmdline, err = t.optionalString("cmdline"); err != nil {
		return err
	}
	if out.DiskPath, err = t.optionalString("disk_path"); err != nil {
		return err
	}

	loc, err := t.optionalString("image_location")
	if err != nil {
		return err
	}
	out.ImageLocation = ImageFileSystem
	if loc != nil {
		out.ImageLocation = ImageLocation(*loc)
		if !out.ImageLocation.Valid() {
			return outOfRange(t.name, "image_location",
				fmt.Sprintf("%q is not \"fs\" or \"memory\"", *loc))
		}
	}

	tuples, err := t.optionalTupleList("memory_regions")
	if err != nil {
		return err
	}
	out.MemoryRegions = make([]MemoryRegion, 0, len(tuples))
	for i, tup := range tuples {
		field := fmt.Sprintf("memory_regions[%d]", i)
		region, err := decodeMemoryRegion(t.name, field, tup)
		if err != nil {
			return err
		}
		out.MemoryRegions = append(out.MemoryRegions, region)
	}
	return nil
}

func decodeDevices(t table, out *DevicesConfig) error {
	tuples, err := t.optionalTupleList("emu_devices")
	if err != nil {
		return err
	}
	out.EmuDevices = make([]EmulatedDevice, 0, len(tuples))
	for i, tup := range tuples {
		field := fmt.Sprintf("emu_devices[%d]", i)
		dev, err := decodeEmulatedDevice(t.name, field, tup)
		if err != nil {
			return err
		}
		out.EmuDevices = append(out.EmuDevices, dev)
	}

	tuples, err = t.optionalTupleList("passthrough_devices")
	if err != nil {
		return err
	}
	out.PassthroughDevices = make([]PassthroughDevice, 0, len(tuples))
	for i, tup := range tuples {
		field := fmt.Sprintf("passthrough_devices[%d]", i)
		dev, err := decodePassthroughDevice(t.name, field, tup)
		if err != nil {
			return err
		}
		out.PassthroughDevices = append(out.PassthroughDevices, dev)
	}

	mode, err := t.optionalString("interrupt_mode")
	if err != nil {
		return err
	}
	out.InterruptMode = InterruptNoIrq
	if mode != nil {
		m, ok := ParseInterruptMode(*mode)
		if !ok {
			return outOfRange(t.name, "interrupt_mode",
				fmt.Sprintf("unknown mode %q", *mode))
		}
		out.InterruptMode = m
	}
	return nil
}

// decodeMemoryRegion decodes the tuple [base_addr, size, flags, region_type].
func decodeMemoryRegion(tableName, field string, tup []any) (MemoryRegion, error) {
	var region MemoryRegion
	if len(tup) != 4 {
		return region, typeMismatch(tableName, field,
			fmt.Sprintf("expected 4 elements, got %d", len(tup)))
	}

	base, err := tupleUint(tableName, field, "base_addr", tup[0])
	if err != nil {
		return region, err
	}
	size, err := tupleUint(tableName, field, "size", tup[1])
	if err != nil {
		return region, err
	}
	flags, err := tupleUint(tableName, field, "flags", tup[2])
	if err != nil {
		return region, err
	}
	regionType, err := tupleUint(tableName, field, "region_type", tup[3])
	if err != nil {
		return region, err
	}

	region = MemoryRegion{
		BaseAddr:   base,
		Size:       size,
		Flags:      MemFlags(flags),
		RegionType: RegionType(regionType),
	}
	if !region.Flags.Valid() {
		return region, outOfRange(tableName, field,
			fmt.Sprintf("unknown flag bits in %#x", flags))
	}
	if !region.RegionType.Valid() {
		return region, outOfRange(tableName, field,
			fmt.Sprintf("unknown region type %d", regionType))
	}
	return region, nil
}

// decodeEmulatedDevice decodes the tuple
// [name, base_gpa, length, irq_id, emu_type, config_list].
//
// An out-of-scheme emu_type value decodes successfully and is reported
// later by the validator, since the type space is an open allocation
// scheme. The config_list arity, however, is a decode-time check.
func decodeEmulatedDevice(tableName, field string, tup []any) (EmulatedDevice, error) {
	var dev EmulatedDevice
	if len(tup) != 6 {
		return dev, typeMismatch(tableName, field,
			fmt.Sprintf("expected 6 elements, got %d", len(tup)))
	}

	name, ok := tup[0].(string)
	if !ok {
		return dev, typeMismatch(tableName, field, "name must be a string")
	}
	if name == "" {
		return dev, outOfRange(tableName, field, "name must not be empty")
	}

	gpa, err := tupleUint(tableName, field, "base_gpa", tup[1])
	if err != nil {
		return dev, err
	}
	length, err := tupleUint(tableName, field, "length", tup[2])
	if err != nil {
		return dev, err
	}
	irq, err := tupleUint(tableName, field, "irq_id", tup[3])
	if err != nil {
		return dev, err
	}
	if irq > math.MaxUint32 {
		return dev, outOfRange(tableName, field,
			fmt.Sprintf("irq_id %d exceeds 32 bits", irq))
	}
	emuType, err := tupleUint(tableName, field, "emu_type", tup[4])
	if err != nil {
		return dev, err
	}

	params, ok := tup[5].([]any)
	if !ok {
		return dev, typeMismatch(tableName, field, "config_list must be an array")
	}
	configList := make([]uint64, 0, len(params))
	for i, p := range params {
		v, err := tupleUint(tableName, field, fmt.Sprintf("config_list[%d]", i), p)
		if err != nil {
			return dev, err
		}
		configList = append(configList, v)
	}

	dev = EmulatedDevice{
		Name:       name,
		BaseGPA:    gpa,
		Length:     length,
		IRQ:        uint32(irq),
		EmuType:    EmulatedDeviceType(emuType),
		ConfigList: configList,
	}
	if dev.EmuType.Valid() {
		min, max := dev.EmuType.ParamArity()
		if len(configList) < min || (max >= 0 && len(configList) > max) {
			return dev, outOfRange(tableName, field,
				fmt.Sprintf("%s device takes %d..%d config_list entries, got %d",
					dev.EmuType, min, max, len(configList)))
		}
	}
	return dev, nil
}

// decodePassthroughDevice decodes the tuple
// [name, base_gpa, base_hpa, length, irq_id].
func decodePassthroughDevice(tableName, field string, tup []any) (PassthroughDevice, error) {
	var dev PassthroughDevice
	if len(tup) != 5 {
		return dev, typeMismatch(tableName, field,
			fmt.Sprintf("expected 5 elements, got %d", len(tup)))
	}

	name, ok := tup[0].(string)
	if !ok {
		return dev, typeMismatch(tableName, field, "name must be a string")
	}
	if name == "" {
		return dev, outOfRange(tableName, field, "name must not be empty")
	}

	gpa, err := tupleUint(tableName, field, "base_gpa", tup[1])
	if err != nil {
		return dev, err
	}
	hpa, err := tupleUint(tableName, field, "base_hpa", tup[2])
	if err != nil {
		return dev, err
	}
	length, err := tupleUint(tableName, field, "length", tup[3])
	if err != nil {
		return dev, err
	}
	irq, err := tupleUint(tableName, field, "irq_id", tup[4])
	if err != nil {
		return dev, err
	}
	if irq > math.MaxUint32 {
		return dev, outOfRange(tableName, field,
			fmt.Sprintf("irq_id %d exceeds 32 bits", irq))
	}

	return PassthroughDevice{
		Name:    name,
		BaseGPA: gpa,
		BaseHPA: hpa,
		Length:  length,
		IRQ:     uint32(irq),
	}, nil
}

// table wraps one top-level TOML table with typed, error-reporting
// accessors.
type table struct {
	name string
	m    map[string]any
}

func requireTable(tree map[string]any, name string) (table, error) {
	v, ok := tree[name]
	if !ok {
		return table{}, missingField(name, "")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return table{}, typeMismatch(name, "", "must be a table")
	}
	return table{name: name, m: m}, nil
}

func (t table) requireString(key string) (string, error) {
	v, ok := t.m[key]
	if !ok {
		return "", missingField(t.name, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", typeMismatch(t.name, key, "must be a string")
	}
	return s, nil
}

func (t table) optionalString(key string) (*string, error) {
	v, ok := t.m[key]
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, typeMismatch(t.name, key, "must be a string")
	}
	return &s, nil
}

func (t table) requireUint(key string) (uint64, error) {
	v, ok := t.m[key]
	if !ok {
		return 0, missingField(t.name, key)
	}
	return asUint(t.name, key, v)
}

func (t table) optionalUint(key string) (*uint64, error) {
	v, ok := t.m[key]
	if !ok {
		return nil, nil
	}
	n, err := asUint(t.name, key, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (t table) optionalUintList(key string) ([]uint64, error) {
	v, ok := t.m[key]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, typeMismatch(t.name, key, "must be an array of integers")
	}
	list := make([]uint64, 0, len(raw))
	for i, e := range raw {
		n, err := asUint(t.name, fmt.Sprintf("%s[%d]", key, i), e)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, nil
}

// optionalTupleList reads a list-of-tuples field such as
// memory_regions. An absent key decodes as an empty list.
func (t table) optionalTupleList(key string) ([][]any, error) {
	v, ok := t.m[key]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, typeMismatch(t.name, key, "must be an array")
	}
	tuples := make([][]any, 0, len(raw))
	for i, e := range raw {
		tup, ok := e.([]any)
		if !ok {
			return nil, typeMismatch(t.name,
				fmt.Sprintf("%s[%d]", key, i), "must be a tuple")
		}
		tuples = append(tuples, tup)
	}
	return tuples, nil
}

func asUint(tableName, field string, v any) (uint64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, typeMismatch(tableName, field, "must be an integer")
	}
	if n < 0 {
		return 0, outOfRange(tableName, field,
			fmt.Sprintf("%d must not be negative", n))
	}
	return uint64(n), nil
}

func tupleUint(tableName, field, element string, v any) (uint64, error) {
	n, err := asUint(tableName, field+"."+element, v)
	if err != nil {
		return 0, err
	}
	return n, nil
}
