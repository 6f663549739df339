// Package wasmplugin loads a user-supplied WebAssembly module as a
// sandboxed chain.Plugin: an Underlay/Overlay transform implemented
// entirely outside the Go binary, for deployments that need custom
// lint or encoding logic they cannot (or would rather not) compile in.
package wasmplugin

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/event"
)

// Module wraps a loaded .wasm plugin compiled against the exported
// ABI: underlay(ptr,len)->(ptr,len) and overlay(ptr,len)->(ptr,len),
// operating on the event data bytes only (metadata never crosses the
// sandbox boundary).
type Module struct {
	runtime  wazero.Runtime
	module   api.Module
	underlay string
	overlay  string
}

// Load compiles and instantiates the .wasm file at path, wiring WASI
// so modules compiled from a standard WASI-targeting toolchain run
// unmodified.
func Load(ctx context.Context, path string) (*Module, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasmplugin: read %s: %w", path, err)
	}

	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasmplugin: instantiate wasi: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasmplugin: compile %s: %w", path, err)
	}

	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStdout(os.Stdout).WithStderr(os.Stderr))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasmplugin: instantiate %s: %w", path, err)
	}

	return &Module{runtime: rt, module: instance, underlay: "underlay", overlay: "overlay"}, nil
}

// Close releases the wazero runtime and its compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Underlay implements chain.Transformer's outbound leg by calling the
// module's exported underlay function on data.
func (m *Module) Underlay(meta event.Metadata, data []byte, session *chain.Session, txMeta *chain.TransactionMetadata) ([]byte, error) {
	return m.call(m.underlay, data)
}

// Overlay implements chain.Transformer's inbound leg by calling the
// module's exported overlay function on data.
func (m *Module) Overlay(meta event.Metadata, data []byte, session *chain.Session) ([]byte, error) {
	return m.call(m.overlay, data)
}

var _ chain.Transformer = (*Module)(nil)

func (m *Module) call(fn string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	exported := m.module.ExportedFunction(fn)
	if exported == nil {
		return nil, fmt.Errorf("wasmplugin: module has no exported function %q", fn)
	}

	mem := m.module.Memory()
	// Guest modules reserve a scratch region at offset 0 sized to the
	// largest input this host will ever hand them; callers are
	// expected to size data accordingly (see the plugin ABI doc).
	if !mem.Write(0, data) {
		return nil, fmt.Errorf("wasmplugin: write input to guest memory")
	}

	results, err := exported.Call(context.Background(), 0, uint64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("wasmplugin: call %s: %w", fn, err)
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("wasmplugin: %s returned %d values, want 2", fn, len(results))
	}

	outPtr, outLen := uint32(results[0]), uint32(results[1])
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("wasmplugin: read output from guest memory")
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}
