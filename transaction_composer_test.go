package composer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/tetratelabs/wazero"
	"go.uber.org/goleak"

	"github.com/aperturerobotics/go-aptos-composer-wasi/internal/fakecomposer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestRuntime returns a runtime with the fake composer host registered.
func newTestRuntime(t *testing.T) (context.Context, wazero.Runtime, *fakecomposer.Host) {
	t.Helper()
	ctx := context.Background()
	r, host, err := fakecomposer.NewRuntime(ctx, fakecomposer.DefaultReturns)
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	t.Cleanup(func() { r.Close(ctx) })
	return ctx, r, host
}

func TestTransactionComposerLifecycle(t *testing.T) {
	ctx, r, host := newTestRuntime(t)

	c, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), &Config{})
	if err != nil {
		t.Fatalf("NewTransactionComposer failed: %v", err)
	}
	if host.Live() != 1 {
		t.Fatalf("expected 1 live composer, got %d", host.Live())
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if host.Live() != 0 {
		t.Fatalf("expected composer_destroy on Close, %d still live", host.Live())
	}

	// Close is idempotent
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := c.StoreModule(ctx, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from StoreModule, got %v", err)
	}
	if _, err := c.AddBatchedCall(ctx, "0x1::coin", "value", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from AddBatchedCall, got %v", err)
	}
	if _, err := c.GenerateBatchedCalls(ctx, true); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from GenerateBatchedCalls, got %v", err)
	}
}

func TestTransactionComposerStoreModule(t *testing.T) {
	ctx, r, _ := newTestRuntime(t)

	c, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), nil)
	if err != nil {
		t.Fatalf("NewTransactionComposer failed: %v", err)
	}
	defer c.Close(ctx)

	code := append(append([]byte{}, fakecomposer.MoveMagic...), "coin"...)
	id, err := c.StoreModule(ctx, code)
	if err != nil {
		t.Fatalf("StoreModule failed: %v", err)
	}
	if id != "0x1::coin" {
		t.Errorf("unexpected module id: %q", id)
	}

	if _, err := c.StoreModule(ctx, nil); err == nil {
		t.Error("expected error storing empty bytecode")
	}

	_, err = c.StoreModule(ctx, []byte("not a module"))
	var guestErr *GuestError
	if !errors.As(err, &guestErr) {
		t.Fatalf("expected GuestError, got %v", err)
	}
	if guestErr.Op != ExportComposerStoreModule || guestErr.Message != "invalid module bytecode" {
		t.Errorf("unexpected guest error: %v", guestErr)
	}
}

func TestTransactionComposerChainedCalls(t *testing.T) {
	ctx, r, host := newTestRuntime(t)

	c, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), &Config{SignerCount: 2})
	if err != nil {
		t.Fatalf("NewTransactionComposer failed: %v", err)
	}
	defer c.Close(ctx)

	amount := []byte{100, 0, 0, 0, 0, 0, 0, 0}
	returns, err := c.AddBatchedCall(ctx, "0x1::coin", "withdraw",
		[]string{"0x1::aptos_coin::AptosCoin"},
		[]CallArgument{NewSigner(1), NewBytes(amount)})
	if err != nil {
		t.Fatalf("AddBatchedCall withdraw failed: %v", err)
	}
	if len(returns) != 1 {
		t.Fatalf("expected 1 return handle, got %d", len(returns))
	}
	want := NewPreviousResult(0, 0)
	if returns[0].Kind != want.Kind || returns[0].Result != want.Result {
		t.Fatalf("unexpected return handle: %v", returns[0])
	}

	borrowed, err := returns[0].Borrow()
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if _, err := c.AddBatchedCall(ctx, "0x1::coin", "value",
		[]string{"0x1::aptos_coin::AptosCoin"}, []CallArgument{borrowed}); err != nil {
		t.Fatalf("AddBatchedCall value failed: %v", err)
	}

	addr := make([]byte, 32)
	addr[31] = 0xb
	returns, err = c.AddBatchedCall(ctx, "0x1::coin", "deposit",
		[]string{"0x1::aptos_coin::AptosCoin"},
		[]CallArgument{NewBytes(addr), returns[0]})
	if err != nil {
		t.Fatalf("AddBatchedCall deposit failed: %v", err)
	}
	if len(returns) != 0 {
		t.Errorf("deposit should return nothing, got %v", returns)
	}

	// the coin was moved into deposit
	_, err = c.AddBatchedCall(ctx, "0x1::coin", "deposit",
		[]string{"0x1::aptos_coin::AptosCoin"},
		[]CallArgument{NewBytes(addr), NewPreviousResult(0, 0)})
	if err == nil || !strings.Contains(err.Error(), "already moved") {
		t.Fatalf("expected use-after-move error, got %v", err)
	}

	script, err := c.GenerateBatchedCalls(ctx, false)
	if err != nil {
		t.Fatalf("GenerateBatchedCalls failed: %v", err)
	}
	var decoded Script
	if err := bcs.Deserialize(&decoded, script); err != nil {
		t.Fatalf("decode script failed: %v", err)
	}
	lines, err := fakecomposer.ParseScriptCode(decoded.Code)
	if err != nil {
		t.Fatalf("ParseScriptCode failed: %v", err)
	}
	expected := []string{
		"0: 0x1::coin::withdraw<0x1::aptos_coin::AptosCoin>(signer1, 0x6400000000000000)",
		"1: 0x1::coin::value<0x1::aptos_coin::AptosCoin>(borrow(r0.0))",
		"2: 0x1::coin::deposit<0x1::aptos_coin::AptosCoin>(0x000000000000000000000000000000000000000000000000000000000000000b, move(r0.0))",
	}
	if strings.Join(lines, "\n") != strings.Join(expected, "\n") {
		t.Errorf("unexpected script:\n%s\nexpected:\n%s", strings.Join(lines, "\n"), strings.Join(expected, "\n"))
	}
	if len(host.Scripts()) != 1 {
		t.Errorf("expected 1 generated script, got %d", len(host.Scripts()))
	}
}

func TestTransactionComposerGuestErrors(t *testing.T) {
	ctx, r, _ := newTestRuntime(t)

	c, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), nil)
	if err != nil {
		t.Fatalf("NewTransactionComposer failed: %v", err)
	}
	defer c.Close(ctx)

	// single signer composer
	_, err = c.AddBatchedCall(ctx, "0x1::aptos_account", "transfer", nil,
		[]CallArgument{NewSigner(1)})
	var guestErr *GuestError
	if !errors.As(err, &guestErr) {
		t.Fatalf("expected GuestError, got %v", err)
	}
	if !strings.Contains(guestErr.Message, "signer index 1 out of range") {
		t.Errorf("unexpected guest message: %q", guestErr.Message)
	}

	_, err = c.AddBatchedCall(ctx, "0x1::coin", "deposit", nil,
		[]CallArgument{NewPreviousResult(3, 0)})
	if err == nil || !strings.Contains(err.Error(), "call 3 does not exist") {
		t.Errorf("expected missing call error, got %v", err)
	}

	// a failed call leaves the composer usable
	script, err := c.GenerateBatchedCalls(ctx, true)
	if err != nil {
		t.Fatalf("GenerateBatchedCalls failed: %v", err)
	}
	p, err := LoadTransactionPayloadScript(script)
	if err != nil {
		t.Fatalf("LoadTransactionPayloadScript failed: %v", err)
	}
	lines, _ := fakecomposer.ParseScriptCode(p.Script.Code)
	if len(lines) != 1 || lines[0] != "metadata" {
		t.Errorf("expected metadata only script, got %q", lines)
	}
}

func TestTransactionComposerInitFailure(t *testing.T) {
	ctx, r, host := newTestRuntime(t)

	_, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), &Config{SignerCount: fakecomposer.MaxSigners + 1})
	if err == nil || !strings.Contains(err.Error(), "composer_init returned error code") {
		t.Fatalf("expected composer_init error, got %v", err)
	}
	if host.Live() != 0 {
		t.Errorf("failed init left %d live composers", host.Live())
	}
}

func TestTransactionComposerMultipleInstances(t *testing.T) {
	ctx, r, host := newTestRuntime(t)

	compiled, err := CompileComposer(ctx, r, fakecomposer.WASM())
	if err != nil {
		t.Fatalf("CompileComposer failed: %v", err)
	}
	defer compiled.Close(ctx)

	var composers []*TransactionComposer
	for i := 0; i < 3; i++ {
		c, err := NewTransactionComposerWithModule(ctx, r, compiled, nil)
		if err != nil {
			t.Fatalf("NewTransactionComposerWithModule %d failed: %v", i, err)
		}
		composers = append(composers, c)
	}
	if host.Live() != 3 {
		t.Fatalf("expected 3 live composers, got %d", host.Live())
	}

	// calls on one instance are not visible to another
	if _, err := composers[0].AddBatchedCall(ctx, "0x1::coin", "withdraw", nil,
		[]CallArgument{NewSigner(0), NewBytes([]byte{1, 0, 0, 0, 0, 0, 0, 0})}); err != nil {
		t.Fatalf("AddBatchedCall failed: %v", err)
	}
	script, err := composers[1].GenerateBatchedCalls(ctx, false)
	if err != nil {
		t.Fatalf("GenerateBatchedCalls failed: %v", err)
	}
	p, err := LoadTransactionPayloadScript(script)
	if err != nil {
		t.Fatalf("LoadTransactionPayloadScript failed: %v", err)
	}
	if lines, _ := fakecomposer.ParseScriptCode(p.Script.Code); len(lines) != 0 {
		t.Errorf("expected empty script from second instance, got %q", lines)
	}

	for _, c := range composers {
		if err := c.Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if host.Live() != 0 {
		t.Errorf("expected all composers destroyed, %d live", host.Live())
	}
}

func TestTransactionComposerGuestFault(t *testing.T) {
	ctx, r, host := newTestRuntime(t)
	host.Trap = "0x1::coin::value"

	c, err := NewTransactionComposer(ctx, r, fakecomposer.WASM(), nil)
	if err != nil {
		t.Fatalf("NewTransactionComposer failed: %v", err)
	}
	defer c.Close(ctx)

	_, err = c.AddBatchedCall(ctx, "0x1::coin", "value", nil, nil)
	if !errors.Is(err, ErrGuestFault) {
		t.Fatalf("expected ErrGuestFault, got %v", err)
	}
	var guestErr *GuestError
	if errors.As(err, &guestErr) {
		t.Errorf("a trap is not a guest error: %v", guestErr)
	}
}

func TestCompileComposerErrors(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	if _, err := CompileComposer(ctx, r, nil); err == nil {
		t.Error("expected error for empty wasm")
	}
	if _, err := CompileComposer(ctx, r, []byte("garbage")); err == nil {
		t.Error("expected error for invalid wasm")
	}
}

func TestMissingExport(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	// an empty module exports nothing
	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	_, err := NewTransactionComposer(ctx, r, empty, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "missing export: ") {
		t.Fatalf("expected missing export error, got %v", err)
	}
}

func TestMemoryOnlyModuleRejected(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	// exports a memory but none of the reactor functions, like a
	// wasm-bindgen build without the shim
	wasm := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	}
	_, err := NewTransactionComposer(ctx, r, wasm, nil)
	if err == nil {
		t.Fatal("expected missing export error")
	}
	if err.Error() != "missing export: "+requiredExports[0] {
		t.Fatalf("expected the first reactor function to be reported, got %v", err)
	}
}
