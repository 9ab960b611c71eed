package composer

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/aperturerobotics/go-aptos-composer-wasi/convert"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// InputBatchedFunctionData is the data needed to add one batched call.
type InputBatchedFunctionData struct {
	// Function is "address::module::function".
	Function string
	// TypeArguments are type tag strings or movetype.TypeTag values.
	TypeArguments []any
	// FunctionArguments are CallArgument handles, convert.Typed values or
	// plain Go values converted through the module ABI.
	FunctionArguments []any
	// ModuleABI is the ABI of the module that defines Function.
	ModuleABI *moveabi.MoveModule
}

// ScriptComposer builds a transaction that invokes multiple Move functions
// and passes values between them. It wraps a TransactionComposer and converts
// high level arguments into the form the composer module expects.
type ScriptComposer struct {
	builder *TransactionComposer
	log     *zap.Logger
}

// NewScriptComposer compiles wasm and creates a ScriptComposer.
// Call Close() when done to release resources.
func NewScriptComposer(ctx context.Context, r wazero.Runtime, wasm []byte, cfg *Config) (*ScriptComposer, error) {
	compiled, err := CompileComposer(ctx, r, wasm)
	if err != nil {
		return nil, err
	}
	return NewScriptComposerWithModule(ctx, r, compiled, cfg)
}

// NewScriptComposerWithModule creates a ScriptComposer from a pre-compiled
// composer module.
func NewScriptComposerWithModule(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, cfg *Config) (*ScriptComposer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	builder, err := NewTransactionComposerWithModule(ctx, r, compiled, cfg)
	if err != nil {
		return nil, err
	}
	return &ScriptComposer{builder: builder, log: cfg.logger()}, nil
}

// Builder returns the underlying TransactionComposer.
func (s *ScriptComposer) Builder() *TransactionComposer {
	return s.builder
}

// StoreModules stores each module's bytecode in the composer and returns the
// module ids in order.
func (s *ScriptComposer) StoreModules(ctx context.Context, modules []moveabi.MoveModuleBytecode) ([]string, error) {
	ids := make([]string, 0, len(modules))
	for i := range modules {
		code, err := modules[i].Bytes()
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
		id, err := s.builder.StoreModule(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("store module %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AddBatchedCalls adds a Move function invocation to the script.
//
// Like an entry function payload, except that an argument may also be a
// CallArgument: a signer or a value returned by a previous call. The
// returned CallArguments stand for this call's return values and can be
// passed on to later calls.
func (s *ScriptComposer) AddBatchedCalls(ctx context.Context, input InputBatchedFunctionData) ([]CallArgument, error) {
	parts, err := moveabi.GetFunctionParts(input.Function)
	if err != nil {
		return nil, err
	}

	typeArguments, err := movetype.StandardizeTypeTags(input.TypeArguments)
	if err != nil {
		return nil, err
	}
	if input.ModuleABI == nil {
		return nil, fmt.Errorf("%w for '%s'", ErrMissingModuleABI, parts.ModuleID())
	}

	// Check the type argument count against the ABI
	functionABI := input.ModuleABI.Function(parts.FunctionName)
	if functionABI == nil {
		return nil, fmt.Errorf("%w for '%s'", ErrMissingFunctionABI, parts)
	}
	if len(typeArguments) != len(functionABI.GenericTypeParams) {
		return nil, fmt.Errorf("%w, expected %d, received %d",
			ErrTypeArgumentCount, len(functionABI.GenericTypeParams), len(typeArguments))
	}

	functionArguments := make([]CallArgument, len(input.FunctionArguments))
	for i, arg := range input.FunctionArguments {
		switch v := arg.(type) {
		case CallArgument:
			functionArguments[i] = v
		case *CallArgument:
			if v == nil {
				return nil, fmt.Errorf("%s: argument %d is a nil CallArgument", parts, i)
			}
			functionArguments[i] = *v
		default:
			b, err := convert.Argument(parts.FunctionName, input.ModuleABI, arg, i, typeArguments,
				convert.Options{AllowUnknownStructs: true})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", parts, err)
			}
			functionArguments[i] = NewBytes(b)
		}
	}

	tyArgs := make([]string, len(typeArguments))
	for i, ta := range typeArguments {
		tyArgs[i] = ta.String()
	}

	return s.builder.AddBatchedCall(ctx, parts.ModuleID(), parts.FunctionName, tyArgs, functionArguments)
}

// BuildBytes returns the serialized script with composer metadata included.
func (s *ScriptComposer) BuildBytes(ctx context.Context) ([]byte, error) {
	return s.builder.GenerateBatchedCalls(ctx, true)
}

// Build returns the composed script as a transaction payload.
func (s *ScriptComposer) Build(ctx context.Context) (*TransactionPayloadScript, error) {
	b, err := s.BuildBytes(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := LoadTransactionPayloadScript(b)
	if err != nil {
		return nil, err
	}
	s.log.Debug("built script payload",
		zap.Int("code_size", len(payload.Script.Code)),
		zap.Int("type_args", len(payload.Script.TypeArgs)),
		zap.Int("args", len(payload.Script.Args)),
	)
	return payload, nil
}

// Close releases the composer.
func (s *ScriptComposer) Close(ctx context.Context) error {
	return s.builder.Close(ctx)
}
