package template

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabiome/vmconfig/internal/schema"
	"github.com/terabiome/vmconfig/internal/validate"
)

func TestParseArch(t *testing.T) {
	arch, err := ParseArch("RISCV64")
	require.NoError(t, err)
	assert.Equal(t, ArchRISCV64, arch)

	_, err = ParseArch("mips")
	assert.Error(t, err)
}

func TestDefault_AllArchesValidate(t *testing.T) {
	for _, arch := range Arches() {
		t.Run(string(arch), func(t *testing.T) {
			cfg, err := Default(arch)
			require.NoError(t, err)
			assert.Empty(t, validate.Config(cfg))
		})
	}
}

func TestDefault_ReturnsIndependentCopies(t *testing.T) {
	first, err := Default(ArchRISCV64)
	require.NoError(t, err)
	first.Kernel.MemoryRegions[0].BaseAddr = 0xdead0000
	first.Base.PhysCPUIDs[0] = 99

	second, err := Default(ArchRISCV64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80000000), second.Kernel.MemoryRegions[0].BaseAddr)
	assert.Equal(t, uint64(0), second.Base.PhysCPUIDs[0])
}

func TestGenerate_NoOverrides(t *testing.T) {
	for _, arch := range Arches() {
		t.Run(string(arch), func(t *testing.T) {
			cfg, err := Generate(arch, Overrides{})
			require.NoError(t, err)

			want, err := Default(arch)
			require.NoError(t, err)
			if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("zero-override generate diverged from defaults (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerate_OverridesReplaceOnlyNamedFields(t *testing.T) {
	kernelPath := "arceos-riscv64.bin"
	loadAddr := uint64(0x80200000)

	cfg, err := Generate(ArchRISCV64, Overrides{
		KernelPath:     &kernelPath,
		KernelLoadAddr: &loadAddr,
	})
	require.NoError(t, err)

	want, err := Default(ArchRISCV64)
	require.NoError(t, err)
	want.Kernel.KernelPath = kernelPath
	want.Kernel.KernelLoadAddr = loadAddr

	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("override bled into unrelated fields (-want +got):\n%s", diff)
	}
}

func TestGenerate_CPUNumOverrideTracksCPUIDs(t *testing.T) {
	cpuNum := 4
	cfg, err := Generate(ArchAArch64, Overrides{CPUNum: &cpuNum})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Base.CPUNum)
	assert.Equal(t, []uint64{0, 1, 2, 3}, cfg.Base.PhysCPUIDs)
}

func TestGenerate_InvalidOverrideFailsClosed(t *testing.T) {
	// A misaligned load address outside the default layout must be
	// rejected, not emitted.
	loadAddr := uint64(0xdeadbeef)
	_, err := Generate(ArchRISCV64, Overrides{KernelLoadAddr: &loadAddr})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ArchRISCV64, genErr.Arch)
	require.NotEmpty(t, genErr.Violations)

	kinds := make(map[validate.Kind]bool)
	for _, v := range genErr.Violations {
		kinds[v.Kind] = true
	}
	assert.True(t, kinds[validate.KindMisalignment])
	assert.True(t, kinds[validate.KindDanglingReference])
}

func TestGenerate_UnknownArch(t *testing.T) {
	_, err := Generate(Arch("sparc"), Overrides{})
	assert.Error(t, err)
}

func TestGenerate_RoundTripsThroughDocument(t *testing.T) {
	name := "edge-node"
	cmdline := "console=ttyS0"
	cfg, err := Generate(ArchX86_64, Overrides{Name: &name, Cmdline: &cmdline})
	require.NoError(t, err)

	document, err := schema.Render(cfg)
	require.NoError(t, err)

	reloaded, err := schema.Load(document)
	require.NoError(t, err)
	assert.Empty(t, validate.Config(reloaded))

	if diff := cmp.Diff(cfg, reloaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("generated config changed across render/load (-want +got):\n%s", diff)
	}
}
