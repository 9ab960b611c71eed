// Package fakecomposer provides an in-process stand-in for the script
// composer WASM module. The guest binary is a tiny hand-assembled reactor
// whose composer exports forward to Go host functions, so the full wazero
// calling convention is exercised without the real composer.
package fakecomposer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ImportModule is the host module the guest imports from.
const ImportModule = "fakecomposer"

// Host import names.
const (
	ImportInit           = "init"
	ImportStoreModule    = "store_module"
	ImportAddBatchedCall = "add_batched_call"
	ImportGenerate       = "generate"
	ImportDestroy        = "destroy"
)

// MoveMagic prefixes every Move module and script.
var MoveMagic = []byte{0xa1, 0x1c, 0xeb, 0x0b}

// instanceSlot is the guest address where the host keeps the instance id.
const instanceSlot = 16

// MaxSigners is the largest signer count init accepts.
const MaxSigners = 16

var guest = buildGuest()

// WASM returns the guest binary.
func WASM() []byte {
	return bytes.Clone(guest)
}

// Arg is a decoded call argument.
type Arg struct {
	Kind        uint32
	Raw         []byte
	Signer      uint16
	CallIndex   uint16
	ReturnIndex uint16
	Op          uint32
}

func (a Arg) String() string {
	switch a.Kind {
	case 0:
		return fmt.Sprintf("0x%x", a.Raw)
	case 1:
		return fmt.Sprintf("signer%d", a.Signer)
	default:
		return fmt.Sprintf("%s(r%d.%d)", opNames[a.Op], a.CallIndex, a.ReturnIndex)
	}
}

var opNames = []string{"move", "copy", "borrow", "borrow_mut"}

// Call is a decoded batched call.
type Call struct {
	Module   string
	Function string
	TypeArgs []string
	Args     []Arg
}

func (c Call) String() string {
	var sb strings.Builder
	sb.WriteString(c.Module + "::" + c.Function)
	if len(c.TypeArgs) != 0 {
		sb.WriteString("<" + strings.Join(c.TypeArgs, ", ") + ">")
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	sb.WriteString("(" + strings.Join(args, ", ") + ")")
	return sb.String()
}

type instance struct {
	signers uint16
	modules map[string]bool
	calls   []Call
	returns []int
	moved   map[[2]uint16]bool
}

// Host implements the composer on the Go side.
type Host struct {
	// Returns maps "address::module::function" to the number of values
	// the function returns. Unlisted functions return nothing.
	Returns map[string]int
	// Trap names a "address::module::function" whose add_batched_call
	// panics inside the host, which the guest sees as a trap.
	Trap string

	mu        sync.Mutex
	next      uint32
	instances map[uint32]*instance
	scripts   [][]byte
}

// NewHost constructs a Host.
func NewHost(returns map[string]int) *Host {
	return &Host{Returns: returns, instances: make(map[uint32]*instance)}
}

// Instantiate registers the host functions in r. It must run before any
// guest is instantiated.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) error {
	i32, i64 := api.ValueTypeI32, api.ValueTypeI64
	_, err := r.NewHostModuleBuilder(ImportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.init), []api.ValueType{i32}, []api.ValueType{i32}).
		Export(ImportInit).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.storeModule), []api.ValueType{i32, i32}, []api.ValueType{i64}).
		Export(ImportStoreModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.addBatchedCall), []api.ValueType{i32, i32}, []api.ValueType{i64}).
		Export(ImportAddBatchedCall).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.generate), []api.ValueType{i32}, []api.ValueType{i64}).
		Export(ImportGenerate).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.destroy), nil, nil).
		Export(ImportDestroy).
		Instantiate(ctx)
	return err
}

// DefaultReturns lists the return counts of the coin fixture functions.
var DefaultReturns = map[string]int{
	"0x1::coin::withdraw": 1,
	"0x1::coin::balance":  1,
	"0x1::coin::value":    1,
}

// NewRuntime creates a runtime with a Host already registered.
func NewRuntime(ctx context.Context, returns map[string]int) (wazero.Runtime, *Host, error) {
	r := wazero.NewRuntime(ctx)
	h := NewHost(returns)
	if err := h.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, nil, err
	}
	return r, h, nil
}

// Live returns the number of initialized, not yet destroyed instances.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances)
}

// Scripts returns every script generated so far.
func (h *Host) Scripts() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.scripts...)
}

// ScriptCode builds the code the fake emits for calls.
func ScriptCode(calls []Call, withMetadata bool) []byte {
	code := bytes.Clone(MoveMagic)
	for i, c := range calls {
		code = fmt.Appendf(code, "%d: %s\n", i, c)
	}
	if withMetadata {
		code = append(code, "metadata\n"...)
	}
	return code
}

// ParseScriptCode returns the call lines of a fake script.
func ParseScriptCode(code []byte) ([]string, error) {
	if !bytes.HasPrefix(code, MoveMagic) {
		return nil, errors.New("missing move magic")
	}
	text := strings.TrimSuffix(string(code[len(MoveMagic):]), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (h *Host) lookup(mod api.Module) (*instance, bool) {
	id, ok := mod.Memory().ReadUint32Le(instanceSlot)
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[id]
	return inst, ok
}

func (h *Host) init(_ context.Context, mod api.Module, stack []uint64) {
	signers := uint32(stack[0])
	if signers == 0 || signers > MaxSigners {
		stack[0] = 1
		return
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.instances[id] = &instance{
		signers: uint16(signers),
		modules: make(map[string]bool),
		moved:   make(map[[2]uint16]bool),
	}
	h.mu.Unlock()
	if !mod.Memory().WriteUint32Le(instanceSlot, id) {
		stack[0] = 2
		return
	}
	stack[0] = 0
}

func (h *Host) destroy(_ context.Context, mod api.Module, _ []uint64) {
	id, ok := mod.Memory().ReadUint32Le(instanceSlot)
	if !ok {
		return
	}
	h.mu.Lock()
	delete(h.instances, id)
	h.mu.Unlock()
}

func (h *Host) storeModule(ctx context.Context, mod api.Module, stack []uint64) {
	inst, ok := h.lookup(mod)
	if !ok {
		stack[0] = respondError(ctx, mod, "composer not initialized")
		return
	}
	code, ok := mod.Memory().Read(uint32(stack[0]), uint32(stack[1]))
	if !ok || !bytes.HasPrefix(code, MoveMagic) || len(code) == len(MoveMagic) {
		stack[0] = respondError(ctx, mod, "invalid module bytecode")
		return
	}
	// the fixture bytecode is the magic followed by the module name
	id := "0x1::" + string(code[len(MoveMagic):])
	h.mu.Lock()
	inst.modules[id] = true
	h.mu.Unlock()

	ser := &bcs.Serializer{}
	ser.WriteString(id)
	stack[0] = respond(ctx, mod, 0, ser.ToBytes())
}

func decodeCall(b []byte) (Call, error) {
	des := bcs.NewDeserializer(b)
	var c Call
	c.Module = des.ReadString()
	c.Function = des.ReadString()
	n := des.Uleb128()
	for i := uint32(0); i < n && des.Error() == nil; i++ {
		c.TypeArgs = append(c.TypeArgs, des.ReadString())
	}
	n = des.Uleb128()
	for i := uint32(0); i < n && des.Error() == nil; i++ {
		var a Arg
		a.Kind = des.Uleb128()
		switch a.Kind {
		case 0:
			a.Raw = des.ReadBytes()
		case 1:
			a.Signer = des.U16()
		case 2:
			a.CallIndex = des.U16()
			a.ReturnIndex = des.U16()
			a.Op = des.Uleb128()
			if a.Op >= uint32(len(opNames)) {
				return c, fmt.Errorf("unknown operation %d", a.Op)
			}
		default:
			return c, fmt.Errorf("unknown argument variant %d", a.Kind)
		}
		c.Args = append(c.Args, a)
	}
	if err := des.Error(); err != nil {
		return c, err
	}
	if des.Remaining() != 0 {
		return c, fmt.Errorf("%d trailing bytes", des.Remaining())
	}
	return c, nil
}

func (inst *instance) check(c Call) error {
	if c.Module == "" || c.Function == "" {
		return errors.New("empty module or function name")
	}
	for _, a := range c.Args {
		switch a.Kind {
		case 1:
			if a.Signer >= inst.signers {
				return fmt.Errorf("signer index %d out of range", a.Signer)
			}
		case 2:
			if int(a.CallIndex) >= len(inst.calls) {
				return fmt.Errorf("call %d does not exist", a.CallIndex)
			}
			if int(a.ReturnIndex) >= inst.returns[a.CallIndex] {
				return fmt.Errorf("call %d has no return value %d", a.CallIndex, a.ReturnIndex)
			}
			key := [2]uint16{a.CallIndex, a.ReturnIndex}
			if inst.moved[key] {
				return fmt.Errorf("value r%d.%d was already moved", a.CallIndex, a.ReturnIndex)
			}
		}
	}
	return nil
}

func (h *Host) addBatchedCall(ctx context.Context, mod api.Module, stack []uint64) {
	inst, ok := h.lookup(mod)
	if !ok {
		stack[0] = respondError(ctx, mod, "composer not initialized")
		return
	}
	req, ok := mod.Memory().Read(uint32(stack[0]), uint32(stack[1]))
	if !ok {
		stack[0] = respondError(ctx, mod, "request out of range")
		return
	}
	c, err := decodeCall(req)
	if err != nil {
		stack[0] = respondError(ctx, mod, "decode call: "+err.Error())
		return
	}
	if h.Trap != "" && h.Trap == c.Module+"::"+c.Function {
		panic("fakecomposer: trap in " + h.Trap)
	}

	h.mu.Lock()
	err = inst.check(c)
	if err == nil {
		for _, a := range c.Args {
			if a.Kind == 2 && a.Op == 0 {
				inst.moved[[2]uint16{a.CallIndex, a.ReturnIndex}] = true
			}
		}
		inst.calls = append(inst.calls, c)
		inst.returns = append(inst.returns, h.Returns[c.Module+"::"+c.Function])
	}
	callIdx := len(inst.calls) - 1
	h.mu.Unlock()
	if err != nil {
		stack[0] = respondError(ctx, mod, err.Error())
		return
	}

	n := inst.returns[callIdx]
	ser := &bcs.Serializer{}
	ser.Uleb128(uint32(n))
	for i := 0; i < n; i++ {
		ser.Uleb128(2)
		ser.U16(uint16(callIdx))
		ser.U16(uint16(i))
		ser.Uleb128(0)
	}
	stack[0] = respond(ctx, mod, 0, ser.ToBytes())
}

func (h *Host) generate(ctx context.Context, mod api.Module, stack []uint64) {
	inst, ok := h.lookup(mod)
	if !ok {
		stack[0] = respondError(ctx, mod, "composer not initialized")
		return
	}
	h.mu.Lock()
	code := ScriptCode(inst.calls, uint32(stack[0]) != 0)
	h.mu.Unlock()

	ser := &bcs.Serializer{}
	ser.WriteBytes(code)
	ser.Uleb128(0) // type args
	ser.Uleb128(0) // args
	script := ser.ToBytes()

	h.mu.Lock()
	h.scripts = append(h.scripts, script)
	h.mu.Unlock()
	stack[0] = respond(ctx, mod, 0, script)
}

func respondError(ctx context.Context, mod api.Module, msg string) uint64 {
	return respond(ctx, mod, 1, []byte(msg))
}

// respond writes status+payload into a guest allocation and packs the
// pointer and length.
func respond(ctx context.Context, mod api.Module, status byte, payload []byte) uint64 {
	buf := append([]byte{status}, payload...)
	res, err := mod.ExportedFunction("malloc").Call(ctx, uint64(len(buf)))
	if err != nil {
		panic(err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, buf) {
		panic("fakecomposer: response out of range")
	}
	return uint64(ptr)<<32 | uint64(len(buf))
}
