package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Render serializes cfg back into its TOML document form. Rendering a
// config produced by Load (or by the template generator) yields a
// document that Load reconstructs to an equal VMConfig.
func Render(cfg *VMConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

// The tuple types marshal themselves so the positional wire encoding
// stays confined to this file. Addresses and sizes render in hex to
// match the documents operators write by hand.

// MarshalTOML renders the tuple [base_addr, size, flags, region_type].
func (r MemoryRegion) MarshalTOML() ([]byte, error) {
	return fmt.Appendf(nil, "[%#x, %#x, %#x, %d]",
		r.BaseAddr, r.Size, uint64(r.Flags), int(r.RegionType)), nil
}

// MarshalTOML renders the tuple
// [name, base_gpa, length, irq_id, emu_type, config_list].
func (d EmulatedDevice) MarshalTOML() ([]byte, error) {
	params := make([]string, len(d.ConfigList))
	for i, p := range d.ConfigList {
		params[i] = fmt.Sprintf("%#x", p)
	}
	return fmt.Appendf(nil, "[%q, %#x, %#x, %d, %#x, [%s]]",
		d.Name, d.BaseGPA, d.Length, d.IRQ, int(d.EmuType),
		strings.Join(params, ", ")), nil
}

// MarshalTOML renders the tuple [name, base_gpa, base_hpa, length, irq_id].
func (d PassthroughDevice) MarshalTOML() ([]byte, error) {
	return fmt.Appendf(nil, "[%q, %#x, %#x, %#x, %d]",
		d.Name, d.BaseGPA, d.BaseHPA, d.Length, d.IRQ), nil
}
