package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aperturerobotics/go-aptos-composer-wasi"

// TransactionComposer wraps one instance of the script composer WASM
// reactor. It forwards calls across the guest boundary and does no argument
// conversion of its own; see ScriptComposer for that.
type TransactionComposer struct {
	runtime wazero.Runtime
	mod     api.Module

	// Memory management
	malloc api.Function
	free   api.Function

	// Composer reactor functions
	composerInit     api.Function
	composerStore    api.Function
	composerAdd      api.Function
	composerGenerate api.Function
	composerDestroy  api.Function

	log    *zap.Logger
	tracer trace.Tracer

	// Mutex for serialised calls (the guest is single-threaded)
	mu sync.Mutex

	// State
	initialized bool
	closed      bool
	calls       int
}

// Config holds configuration for creating a new composer instance.
type Config struct {
	// SignerCount is the number of transaction signers. Default: 1.
	SignerCount uint16
	// Stdout is the standard output for the guest. Default: discard.
	Stdout io.Writer
	// Stderr is the standard error for the guest. Default: discard.
	Stderr io.Writer
	// ModuleName names the guest instance in the runtime. Default: anonymous,
	// which allows any number of composers per runtime.
	ModuleName string
	// Logger receives debug logs. Default: no-op.
	Logger *zap.Logger
	// TracerProvider creates spans around guest calls.
	// Default: the global otel provider.
	TracerProvider trace.TracerProvider
}

func (cfg *Config) logger() *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}

func (cfg *Config) tracer() trace.Tracer {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// CompileComposer compiles a composer WASM binary.
// The compiled module can be reused across multiple composer instances.
func CompileComposer(ctx context.Context, r wazero.Runtime, wasm []byte) (wazero.CompiledModule, error) {
	if len(wasm) == 0 {
		return nil, errors.New("composer wasm is empty")
	}
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile composer: %w", err)
	}
	return compiled, nil
}

// NewTransactionComposer compiles wasm and instantiates a composer from it.
// Call Close() when done to release resources.
func NewTransactionComposer(ctx context.Context, r wazero.Runtime, wasm []byte, cfg *Config) (*TransactionComposer, error) {
	compiled, err := CompileComposer(ctx, r, wasm)
	if err != nil {
		return nil, err
	}

	return NewTransactionComposerWithModule(ctx, r, compiled, cfg)
}

// NewTransactionComposerWithModule instantiates a composer from a pre-compiled
// module and initializes it.
func NewTransactionComposerWithModule(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, cfg *Config) (*TransactionComposer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	signers := cfg.SignerCount
	if signers == 0 {
		signers = 1
	}

	// Instantiate WASI once per runtime
	if r.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}

	// Build module config
	modCfg := wazero.NewModuleConfig().WithName(cfg.ModuleName)

	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}

	// Instantiate the module (reactor mode - no _start)
	mod, err := r.InstantiateModule(ctx, compiled, modCfg.WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	// Call _initialize if present
	if initFn := mod.ExportedFunction(ExportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			mod.Close(ctx)
			return nil, fmt.Errorf("_initialize failed: %w", err)
		}
	}

	// Validate required exports
	for _, name := range requiredExports {
		if mod.ExportedFunction(name) == nil {
			mod.Close(ctx)
			return nil, errors.New("missing export: " + name)
		}
	}
	if mod.Memory() == nil {
		mod.Close(ctx)
		return nil, errors.New("missing export: memory")
	}

	c := &TransactionComposer{
		runtime:          r,
		mod:              mod,
		malloc:           mod.ExportedFunction(ExportMalloc),
		free:             mod.ExportedFunction(ExportFree),
		composerInit:     mod.ExportedFunction(ExportComposerInit),
		composerStore:    mod.ExportedFunction(ExportComposerStoreModule),
		composerAdd:      mod.ExportedFunction(ExportComposerAddBatchedCall),
		composerGenerate: mod.ExportedFunction(ExportComposerGenerateBatchedCalls),
		composerDestroy:  mod.ExportedFunction(ExportComposerDestroy),
		log:              cfg.logger(),
		tracer:           cfg.tracer(),
	}

	results, err := c.composerInit.Call(ctx, uint64(signers))
	if err != nil {
		mod.Close(ctx)
		return nil, fmt.Errorf("composer_init failed: %w", err)
	}
	if code := int32(results[0]); code != 0 {
		mod.Close(ctx)
		return nil, fmt.Errorf("composer_init returned error code %d", code)
	}
	c.initialized = true
	c.log.Debug("composer initialized", zap.Uint16("signers", signers))

	return c, nil
}

func (c *TransactionComposer) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StoreModule hands a compiled Move module to the composer so that calls
// into it can be resolved. It returns the module id the composer reports.
func (c *TransactionComposer) StoreModule(ctx context.Context, bytecode []byte) (id string, err error) {
	ctx, span := c.startSpan(ctx, "composer.StoreModule", attribute.Int("bytecode.size", len(bytecode)))
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}
	if len(bytecode) == 0 {
		return "", errors.New("module bytecode is empty")
	}

	out, err := c.callWithBytes(ctx, c.composerStore, ExportComposerStoreModule, bytecode)
	if err != nil {
		return "", err
	}
	des := bcs.NewDeserializer(out)
	id = des.ReadString()
	if err := decodeDone(des, ExportComposerStoreModule); err != nil {
		return "", err
	}

	c.log.Debug("stored module", zap.String("module", id), zap.Int("size", len(bytecode)))
	return id, nil
}

// AddBatchedCall appends a call of module::function to the script. module is
// "address::name", tyArgs are canonical type tag strings. It returns one
// handle per value the function returns; the handles can be passed to later
// calls.
func (c *TransactionComposer) AddBatchedCall(
	ctx context.Context,
	module, function string,
	tyArgs []string,
	args []CallArgument,
) (returns []CallArgument, err error) {
	ctx, span := c.startSpan(ctx, "composer.AddBatchedCall",
		attribute.String("move.module", module),
		attribute.String("move.function", function),
		attribute.Int("move.args", len(args)),
	)
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	ser := &bcs.Serializer{}
	ser.WriteString(module)
	ser.WriteString(function)
	ser.Uleb128(uint32(len(tyArgs)))
	for _, ta := range tyArgs {
		ser.WriteString(ta)
	}
	marshalCallArguments(ser, args)
	if err := ser.Error(); err != nil {
		return nil, fmt.Errorf("encode %s::%s call: %w", module, function, err)
	}

	out, err := c.callWithBytes(ctx, c.composerAdd, ExportComposerAddBatchedCall, ser.ToBytes())
	if err != nil {
		return nil, err
	}
	des := bcs.NewDeserializer(out)
	returns = unmarshalCallArguments(des)
	if err := decodeDone(des, ExportComposerAddBatchedCall); err != nil {
		return nil, err
	}

	c.log.Debug("added batched call",
		zap.Int("call", c.calls),
		zap.String("module", module),
		zap.String("function", function),
		zap.Strings("type_args", tyArgs),
		zap.Stringers("args", args),
		zap.Int("returns", len(returns)),
	)
	c.calls++
	return returns, nil
}

// GenerateBatchedCalls emits the BCS encoded script for every call added so
// far. withMetadata embeds composer metadata in the script bytecode.
func (c *TransactionComposer) GenerateBatchedCalls(ctx context.Context, withMetadata bool) (script []byte, err error) {
	ctx, span := c.startSpan(ctx, "composer.GenerateBatchedCalls", attribute.Bool("with_metadata", withMetadata))
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	var flag uint64
	if withMetadata {
		flag = 1
	}
	out, err := c.callResult(ctx, c.composerGenerate, ExportComposerGenerateBatchedCalls, flag)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no script", ErrGuestFault, ExportComposerGenerateBatchedCalls)
	}
	c.log.Debug("generated script", zap.Int("calls", c.calls), zap.Int("size", len(out)))
	return out, nil
}

// Close destroys the composer and releases the guest instance.
func (c *TransactionComposer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.initialized && c.composerDestroy != nil {
		if _, err := c.composerDestroy.Call(ctx); err != nil {
			c.log.Warn("composer_destroy failed", zap.Error(err))
		}
		c.initialized = false
	}

	if c.mod != nil {
		return c.mod.Close(ctx)
	}
	return nil
}

func decodeDone(des *bcs.Deserializer, op string) error {
	if err := des.Error(); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", ErrGuestFault, op, err)
	}
	if n := des.Remaining(); n != 0 {
		return fmt.Errorf("%w: decode %s result: %d trailing bytes", ErrGuestFault, op, n)
	}
	return nil
}
