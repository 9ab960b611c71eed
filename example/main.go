// Example demonstrates using go-aptos-composer-wasi to chain Move calls into
// one script transaction.
//
// The wasm must be a reactor exporting malloc, free and the composer_*
// functions. The wasm-bindgen package published upstream does not; build a
// reactor shim around the composer crate first (see abi.go).
//
// Usage: go run ./example path/to/composer_reactor.wasm [network]
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/tetratelabs/wazero"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <composer_reactor.wasm> [network]", os.Args[0])
	}
	wasm, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	network := node.Testnet
	if len(os.Args) > 2 {
		network = os.Args[2]
	}

	ctx := context.Background()

	// Create wazero runtime
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	client, err := node.NewClient(network, os.Getenv("APTOS_API_KEY"))
	if err != nil {
		log.Fatal(err)
	}

	// Example 1: Withdraw and deposit in one script
	fmt.Println("=== withdraw + deposit_coins ===")
	if err := transfer(ctx, r, wasm, client); err != nil {
		log.Fatal(err)
	}

	// Example 2: Fetch a single ABI from the fullnode
	fmt.Println("\n=== aptos_account::transfer with fetched ABI ===")
	if err := fetchedABI(ctx, r, wasm, client); err != nil {
		log.Fatal(err)
	}
}

func transfer(ctx context.Context, r wazero.Runtime, wasm []byte, client *node.Client) error {
	resolver := &modcache.Resolver{Fetcher: client}
	mods, err := resolver.Resolve(ctx, []string{"0x1::coin", "0x1::aptos_account"})
	if err != nil {
		return err
	}

	sc, err := composer.NewScriptComposer(ctx, r, wasm, nil)
	if err != nil {
		return err
	}
	defer sc.Close(ctx)

	if _, err := sc.StoreModules(ctx, []moveabi.MoveModuleBytecode{*mods["0x1::coin"], *mods["0x1::aptos_account"]}); err != nil {
		return err
	}

	coins, err := sc.AddBatchedCalls(ctx, composer.InputBatchedFunctionData{
		Function:          "0x1::coin::withdraw",
		TypeArguments:     []any{"0x1::aptos_coin::AptosCoin"},
		FunctionArguments: []any{composer.NewSigner(0), uint64(1000)},
		ModuleABI:         mods["0x1::coin"].ABI,
	})
	if err != nil {
		return err
	}
	if _, err := sc.AddBatchedCalls(ctx, composer.InputBatchedFunctionData{
		Function:          "0x1::aptos_account::deposit_coins",
		TypeArguments:     []any{"0x1::aptos_coin::AptosCoin"},
		FunctionArguments: []any{"0x1", coins[0]},
		ModuleABI:         mods["0x1::aptos_account"].ABI,
	}); err != nil {
		return err
	}

	return printPayload(ctx, sc)
}

func fetchedABI(ctx context.Context, r wazero.Runtime, wasm []byte, client *node.Client) error {
	sc, err := composer.NewScriptComposer(ctx, r, wasm, nil)
	if err != nil {
		return err
	}
	defer sc.Close(ctx)

	abi, err := client.FetchModuleABI(ctx, "0x1::aptos_account")
	if err != nil {
		return err
	}
	if _, err := sc.AddBatchedCalls(ctx, composer.InputBatchedFunctionData{
		Function:          "0x1::aptos_account::transfer",
		FunctionArguments: []any{composer.NewSigner(0), "0x1", "1000"},
		ModuleABI:         abi,
	}); err != nil {
		return err
	}
	return printPayload(ctx, sc)
}

func printPayload(ctx context.Context, sc *composer.ScriptComposer) error {
	payload, err := sc.Build(ctx)
	if err != nil {
		return err
	}
	b, err := payload.Bytes()
	if err != nil {
		return err
	}
	fmt.Printf("Script code: %d bytes, %d type args, %d args\n",
		len(payload.Script.Code), len(payload.Script.TypeArgs), len(payload.Script.Args))
	fmt.Printf("Payload: 0x%s\n", hex.EncodeToString(b))
	return nil
}
