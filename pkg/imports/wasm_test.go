package imports

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probeModule is a WASM binary exporting a single no-op function named "probe".
var probeModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: () -> ()
	0x03, 0x02, 0x01, 0x00, // function section
	0x07, 0x09, 0x01, 0x05, 'p', 'r', 'o', 'b', 'e', 0x00, 0x00, // export section
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // code section
}

func TestWASMProbe(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("plugin.ok", WASMProbe("plugin.ok", probeModule, "probe")))
	require.NoError(t, m.Register("plugin.partial", WASMProbe("plugin.partial", probeModule, "probe", "render")))
	require.NoError(t, m.Register("plugin.garbage", WASMProbe("plugin.garbage", []byte("not wasm"))))

	ctx := context.Background()
	value := m.SafeImport(ctx, "plugin.ok")
	require.IsType(t, &WASMPlugin{}, value)

	plugin := value.(*WASMPlugin)
	assert.Equal(t, []string{"probe"}, plugin.Exports)
	assert.Len(t, plugin.Checksum, 64)
	assert.Equal(t, len(probeModule), plugin.Size)
	assert.Equal(t, "probe", m.SafeImport(ctx, "plugin.ok", WithSymbol("probe")))

	res := m.TryImport(ctx, "plugin.partial")
	err, isErr := res.Error()
	require.True(t, isErr)
	assert.Contains(t, err.Error(), "render")

	assert.Nil(t, m.SafeImport(ctx, "plugin.garbage"))
}

func TestRegisterWASMPlugin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.wasm")

	m := NewManager()
	require.NoError(t, m.RegisterWASMPlugin("plugin.file", path, "probe"))

	ctx := context.Background()
	assert.Nil(t, m.SafeImport(ctx, "plugin.file"))
	assert.Contains(t, m.Failures()["plugin.file"], "failed to read WASM module")

	require.NoError(t, os.WriteFile(path, probeModule, 0o644))
	assert.Nil(t, m.SafeImport(ctx, "plugin.file"), "failure stays cached until cleared")

	m.ClearFailedImports()
	assert.NotNil(t, m.SafeImport(ctx, "plugin.file"))
}
