package batch

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
)

// ModuleResolver resolves canonical module ids. *modcache.Resolver
// implements it.
type ModuleResolver interface {
	Resolve(ctx context.Context, moduleIDs []string) (map[string]*moveabi.MoveModuleBytecode, error)
}

// Compose stores every module the document needs, adds its calls in order
// and builds the script payload.
func Compose(ctx context.Context, sc *composer.ScriptComposer, resolver ModuleResolver, doc *Document) (*composer.TransactionPayloadScript, error) {
	ids, err := doc.ModuleIDs()
	if err != nil {
		return nil, err
	}
	mods, err := resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve modules: %w", err)
	}

	ordered := make([]moveabi.MoveModuleBytecode, 0, len(ids))
	for _, id := range ids {
		mod := mods[id]
		if mod == nil {
			return nil, fmt.Errorf("module %s was not resolved", id)
		}
		ordered = append(ordered, *mod)
	}
	if _, err := sc.StoreModules(ctx, ordered); err != nil {
		return nil, err
	}

	returns := make([][]composer.CallArgument, 0, len(doc.Calls))
	for i, call := range doc.Calls {
		parts, err := moveabi.GetFunctionParts(call.Function)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		id, err := modcache.CanonicalID(parts.ModuleID())
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}

		args, err := callArguments(call, returns)
		if err != nil {
			return nil, fmt.Errorf("call %d (%s): %w", i, call.Function, err)
		}
		typeArgs := make([]any, len(call.TypeArguments))
		for j, ta := range call.TypeArguments {
			typeArgs[j] = ta
		}

		ret, err := sc.AddBatchedCalls(ctx, composer.InputBatchedFunctionData{
			Function:          call.Function,
			TypeArguments:     typeArgs,
			FunctionArguments: args,
			ModuleABI:         mods[id].ABI,
		})
		if err != nil {
			return nil, fmt.Errorf("call %d (%s): %w", i, call.Function, err)
		}
		returns = append(returns, ret)
	}

	return sc.Build(ctx)
}

func callArguments(call Call, returns [][]composer.CallArgument) ([]any, error) {
	args := make([]any, len(call.Arguments))
	for i, arg := range call.Arguments {
		switch {
		case arg.Signer != nil:
			args[i] = composer.NewSigner(*arg.Signer)
		case arg.Result != nil:
			ref := arg.Result
			if ref.Call < 0 || ref.Call >= len(returns) {
				return nil, fmt.Errorf("argument %d: call %d has not been added", i, ref.Call)
			}
			prev := returns[ref.Call]
			if ref.Index < 0 || ref.Index >= len(prev) {
				return nil, fmt.Errorf("argument %d: call %d returns %d values, no index %d",
					i, ref.Call, len(prev), ref.Index)
			}
			op, err := composer.ParseArgumentOperation(ref.Op)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			handle, err := prev[ref.Index].WithOperation(op)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = handle
		case arg.Bytes != "":
			b, err := hex.DecodeString(strings.TrimPrefix(arg.Bytes, "0x"))
			if err != nil {
				return nil, fmt.Errorf("argument %d: decode bytes: %w", i, err)
			}
			args[i] = composer.NewBytes(b)
		default:
			args[i] = arg.Value
		}
	}
	return args, nil
}
