package imports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
)

// DefaultWASMMemoryLimitPages caps plugin memory at 16MB (64KB pages).
const DefaultWASMMemoryLimitPages = 256

// WASMPlugin describes a compiled WASM capability.
type WASMPlugin struct {
	// Name is the module name the plugin was probed under.
	Name string `json:"name"`

	// Exports lists the exported function names, sorted.
	Exports []string `json:"exports"`

	// Checksum is the hex SHA-256 of the module bytes.
	Checksum string `json:"checksum"`

	// Size is the module size in bytes.
	Size int `json:"size"`
}

// Lookup resolves an exported function name, so plugins work with WithSymbol.
func (p *WASMPlugin) Lookup(name string) (any, bool) {
	for _, export := range p.Exports {
		if export == name {
			return export, true
		}
	}
	return nil, false
}

// WASMProbe returns a probe that compiles wasm and succeeds when every required
// export is present. The module is compiled only; nothing in it runs.
func WASMProbe(name string, wasm []byte, requiredExports ...string) ProbeFunc {
	return func(ctx context.Context) (any, error) {
		return inspectWASM(ctx, name, wasm, requiredExports)
	}
}

// RegisterWASMPlugin registers module as a WASM plugin read from path when first
// imported. A missing file or export is an ordinary import failure.
func (m *Manager) RegisterWASMPlugin(module, path string, requiredExports ...string) error {
	return m.Register(module, func(ctx context.Context) (any, error) {
		wasm, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read WASM module: %w", err)
		}
		return inspectWASM(ctx, module, wasm, requiredExports)
	})
}

func inspectWASM(ctx context.Context, name string, wasm []byte, requiredExports []string) (*WASMPlugin, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(DefaultWASMMemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	defer compiled.Close(ctx)

	defs := compiled.ExportedFunctions()
	exports := make([]string, 0, len(defs))
	for export := range defs {
		exports = append(exports, export)
	}
	sort.Strings(exports)

	var missing []string
	for _, required := range requiredExports {
		if _, ok := defs[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("WASM module %q does not export %s", name, strings.Join(missing, ", "))
	}

	hash := sha256.Sum256(wasm)
	return &WASMPlugin{
		Name:     name,
		Exports:  exports,
		Checksum: hex.EncodeToString(hash[:]),
		Size:     len(wasm),
	}, nil
}
