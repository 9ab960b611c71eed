package composer

import (
	"errors"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// CallArgumentKind is the variant of a CallArgument.
type CallArgumentKind uint8

const (
	// CallArgumentRaw is a BCS encoded value.
	CallArgumentRaw CallArgumentKind = iota
	// CallArgumentSigner is one of the transaction signers.
	CallArgumentSigner
	// CallArgumentPreviousResult is a value returned by an earlier call.
	CallArgumentPreviousResult
)

// ArgumentOperation is how a previous result is passed on.
type ArgumentOperation uint8

const (
	OperationMove ArgumentOperation = iota
	OperationCopy
	OperationBorrow
	OperationBorrowMut
)

func (o ArgumentOperation) String() string {
	switch o {
	case OperationMove:
		return "move"
	case OperationCopy:
		return "copy"
	case OperationBorrow:
		return "borrow"
	case OperationBorrowMut:
		return "borrow_mut"
	}
	return fmt.Sprintf("operation(%d)", uint8(o))
}

// ParseArgumentOperation parses the names printed by ArgumentOperation.String.
// The empty string is a move.
func ParseArgumentOperation(s string) (ArgumentOperation, error) {
	switch s {
	case "", "move":
		return OperationMove, nil
	case "copy":
		return OperationCopy, nil
	case "borrow":
		return OperationBorrow, nil
	case "borrow_mut":
		return OperationBorrowMut, nil
	}
	return 0, fmt.Errorf("unknown argument operation %q", s)
}

// PreviousResult references return value ReturnIndex of call CallIndex.
type PreviousResult struct {
	CallIndex   uint16
	ReturnIndex uint16
	Operation   ArgumentOperation
}

// CallArgument is an argument to a batched call: raw bytes, a signer, or a
// handle to a value returned by an earlier call in the same script.
type CallArgument struct {
	Kind   CallArgumentKind
	Raw    []byte
	Signer uint16
	Result PreviousResult
}

// ErrNotPreviousResult is returned when an operation only valid on
// previous-result handles is applied to another argument kind.
var ErrNotPreviousResult = errors.New("call argument is not a previous result")

// NewBytes wraps an already serialized value.
func NewBytes(b []byte) CallArgument {
	return CallArgument{Kind: CallArgumentRaw, Raw: b}
}

// NewSigner references the signer at index i.
func NewSigner(i uint16) CallArgument {
	return CallArgument{Kind: CallArgumentSigner, Signer: i}
}

// NewPreviousResult references a return value that is moved into the call.
func NewPreviousResult(callIndex, returnIndex uint16) CallArgument {
	return CallArgument{
		Kind:   CallArgumentPreviousResult,
		Result: PreviousResult{CallIndex: callIndex, ReturnIndex: returnIndex},
	}
}

func (a CallArgument) withOperation(op ArgumentOperation) (CallArgument, error) {
	if a.Kind != CallArgumentPreviousResult {
		return CallArgument{}, fmt.Errorf("%w: %s", ErrNotPreviousResult, a)
	}
	a.Result.Operation = op
	return a, nil
}

// Copy returns a handle that copies the value instead of moving it.
func (a CallArgument) Copy() (CallArgument, error) { return a.withOperation(OperationCopy) }

// Borrow returns a handle that passes an immutable reference.
func (a CallArgument) Borrow() (CallArgument, error) { return a.withOperation(OperationBorrow) }

// BorrowMut returns a handle that passes a mutable reference.
func (a CallArgument) BorrowMut() (CallArgument, error) {
	return a.withOperation(OperationBorrowMut)
}

// WithOperation is Copy, Borrow or BorrowMut selected by op; OperationMove
// resets the handle to a move.
func (a CallArgument) WithOperation(op ArgumentOperation) (CallArgument, error) {
	return a.withOperation(op)
}

func (a CallArgument) String() string {
	switch a.Kind {
	case CallArgumentRaw:
		return fmt.Sprintf("raw(0x%x)", a.Raw)
	case CallArgumentSigner:
		return fmt.Sprintf("signer(%d)", a.Signer)
	case CallArgumentPreviousResult:
		return fmt.Sprintf("%s(call %d, return %d)", a.Result.Operation, a.Result.CallIndex, a.Result.ReturnIndex)
	}
	return fmt.Sprintf("call_argument(%d)", uint8(a.Kind))
}

// MarshalBCS implements bcs.Marshaler.
func (a *CallArgument) MarshalBCS(ser *bcs.Serializer) {
	switch a.Kind {
	case CallArgumentRaw:
		ser.Uleb128(uint32(CallArgumentRaw))
		ser.WriteBytes(a.Raw)
	case CallArgumentSigner:
		ser.Uleb128(uint32(CallArgumentSigner))
		ser.U16(a.Signer)
	case CallArgumentPreviousResult:
		ser.Uleb128(uint32(CallArgumentPreviousResult))
		ser.U16(a.Result.CallIndex)
		ser.U16(a.Result.ReturnIndex)
		ser.Uleb128(uint32(a.Result.Operation))
	default:
		ser.SetError(fmt.Errorf("unknown call argument kind %d", a.Kind))
	}
}

// UnmarshalBCS implements bcs.Unmarshaler.
func (a *CallArgument) UnmarshalBCS(des *bcs.Deserializer) {
	kind := des.Uleb128()
	if des.Error() != nil {
		return
	}
	switch CallArgumentKind(kind) {
	case CallArgumentRaw:
		*a = NewBytes(des.ReadBytes())
	case CallArgumentSigner:
		*a = NewSigner(des.U16())
	case CallArgumentPreviousResult:
		callIdx := des.U16()
		retIdx := des.U16()
		op := des.Uleb128()
		if op > uint32(OperationBorrowMut) {
			des.SetError(fmt.Errorf("unknown argument operation %d", op))
			return
		}
		*a = NewPreviousResult(callIdx, retIdx)
		a.Result.Operation = ArgumentOperation(op)
	default:
		des.SetError(fmt.Errorf("unknown call argument variant %d", kind))
	}
}

func marshalCallArguments(ser *bcs.Serializer, args []CallArgument) {
	ser.Uleb128(uint32(len(args)))
	for i := range args {
		args[i].MarshalBCS(ser)
	}
}

func unmarshalCallArguments(des *bcs.Deserializer) []CallArgument {
	n := des.Uleb128()
	if des.Error() != nil {
		return nil
	}
	if int(n) > des.Remaining() {
		des.SetError(fmt.Errorf("call argument count %d exceeds remaining input", n))
		return nil
	}
	args := make([]CallArgument, n)
	for i := range args {
		args[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return nil
		}
	}
	return args
}
