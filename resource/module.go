package resource

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/saiset-co/sai-fx/types"
)

const defaultExport = "default"

// Constructor builds a fresh value for an instance resource. params are the
// leaf's extra manifest fields.
type Constructor func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ModuleRegistry holds Go modules by name. A module is a set of named
// exports: functions, constructors, handlers or plain values.
type ModuleRegistry struct {
	modules map[string]map[string]interface{}
	mu      sync.RWMutex
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]map[string]interface{})}
}

func (m *ModuleRegistry) Register(name string, exports map[string]interface{}) {
	copied := make(map[string]interface{}, len(exports))
	for k, v := range exports {
		copied[k] = v
	}

	m.mu.Lock()
	m.modules[name] = copied
	m.mu.Unlock()
}

func (m *ModuleRegistry) Module(name string) (*Module, error) {
	m.mu.RLock()
	exports, ok := m.modules[name]
	m.mu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrModuleNotFound, "%s", name)
	}
	return &Module{name: name, exports: exports}, nil
}

// Export resolves "module.export"; a bare name means the default export.
func (m *ModuleRegistry) Export(ref string) (interface{}, error) {
	name, export := ref, defaultExport
	if idx := strings.LastIndexByte(ref, '.'); idx > 0 {
		name, export = ref[:idx], ref[idx+1:]
	}

	mod, err := m.Module(name)
	if err != nil {
		return nil, err
	}
	return mod.Export(export)
}

// Module is a loaded Go module.
type Module struct {
	name    string
	exports map[string]interface{}
}

func (m *Module) Name() string {
	return m.name
}

func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Module) Export(name string) (interface{}, error) {
	v, ok := m.exports[name]
	if !ok {
		return nil, types.Errorf(types.ErrExportNotFound, "%s.%s", m.name, name)
	}
	return v, nil
}

// Method adapts a function export to types.Method.
func (m *Module) Method(name string) (types.Method, bool) {
	v, ok := m.exports[name]
	if !ok {
		return nil, false
	}
	return asMethod(v)
}

func asMethod(v interface{}) (types.Method, bool) {
	switch fn := v.(type) {
	case types.Method:
		return fn, true
	case func(ctx context.Context, args ...interface{}) (interface{}, error):
		return fn, true
	case func(args ...interface{}) interface{}:
		return func(_ context.Context, args ...interface{}) (interface{}, error) {
			return fn(args...), nil
		}, true
	}
	return nil, false
}

func newModuleResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		src := source(cfg)
		if strings.EqualFold(filepath.Ext(src), ".wasm") {
			return loadWasm(ctx, src, cfg, deps)
		}

		mod, err := deps.Modules.Module(src)
		if err != nil {
			return nil, err
		}
		return fromModule(ctx, mod, cfg)
	})
}

func fromModule(ctx context.Context, mod *Module, cfg *types.ResourceConfig) (interface{}, error) {
	if cfg.Type == types.ResourceModule {
		return mod, nil
	}

	export := cfg.Export
	if export == "" {
		export = defaultExport
	}

	v, err := mod.Export(export)
	if err != nil {
		return nil, err
	}

	if cfg.Type != types.ResourceInstance {
		return v, nil
	}

	switch ctor := v.(type) {
	case Constructor:
		return ctor(ctx, cfg.Params)
	case func(ctx context.Context, params map[string]interface{}) (interface{}, error):
		return ctor(ctx, cfg.Params)
	case func() interface{}:
		return ctor(), nil
	default:
		return nil, types.Errorf(types.ErrInvalidParameter, "export %s.%s is not a constructor", mod.name, export)
	}
}

// WasmModule is an instantiated WebAssembly module. Each one owns its
// runtime; Close releases both.
type WasmModule struct {
	runtime wazero.Runtime
	module  api.Module
}

func loadWasm(ctx context.Context, src string, cfg *types.ResourceConfig, deps *Deps) (interface{}, error) {
	content, err := deps.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	mod, err := NewWasmModule(ctx, content.Body)
	if err != nil {
		return nil, err
	}

	if cfg.Type == types.ResourceFunction && cfg.Export != "" {
		method, ok := mod.Method(cfg.Export)
		if !ok {
			_ = mod.Close(ctx)
			return nil, types.Errorf(types.ErrExportNotFound, "%s.%s", src, cfg.Export)
		}
		return method, nil
	}
	return mod, nil
}

func NewWasmModule(ctx context.Context, wasm []byte) (*WasmModule, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, types.WrapError(err, "failed to compile wasm module")
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, types.WrapError(err, "failed to instantiate wasm module")
	}

	return &WasmModule{runtime: runtime, module: module}, nil
}

func (w *WasmModule) Exports() []string {
	defs := w.module.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *WasmModule) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := w.module.ExportedFunction(name)
	if fn == nil {
		return nil, types.Errorf(types.ErrExportNotFound, "%s", name)
	}
	return fn.Call(ctx, args...)
}

// Method exposes an exported function taking and returning integers.
// A single result is returned bare.
func (w *WasmModule) Method(name string) (types.Method, bool) {
	if w.module.ExportedFunction(name) == nil {
		return nil, false
	}

	return func(ctx context.Context, args ...interface{}) (interface{}, error) {
		params := make([]uint64, len(args))
		for i, arg := range args {
			p, err := toUint64(arg)
			if err != nil {
				return nil, err
			}
			params[i] = p
		}

		results, err := w.Call(ctx, name, params...)
		if err != nil {
			return nil, err
		}
		if len(results) == 1 {
			return results[0], nil
		}
		return results, nil
	}, true
}

func (w *WasmModule) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

func toUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case int:
		return uint64(n), nil
	case int32:
		return api.EncodeI32(n), nil
	case int64:
		return api.EncodeI64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case float32:
		return api.EncodeF32(n), nil
	case float64:
		return api.EncodeF64(n), nil
	}
	return 0, types.Errorf(types.ErrInvalidParameter, "wasm argument %v is not numeric", v)
}
