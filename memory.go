package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Memory helpers

func (c *TransactionComposer) allocBytes(ctx context.Context, data []byte) (uint32, error) {
	results, err := c.malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errors.New("malloc returned null")
	}
	if !c.mod.Memory().Write(ptr, data) {
		c.freePtr(ctx, ptr)
		return 0, errors.New("failed to write to memory")
	}
	return ptr, nil
}

func (c *TransactionComposer) freePtr(ctx context.Context, ptr uint32) {
	if ptr != 0 {
		if _, err := c.free.Call(ctx, uint64(ptr)); err != nil {
			c.log.Warn("free failed", zap.Uint32("ptr", ptr), zap.Error(err))
		}
	}
}

// callWithBytes copies data into guest memory, calls fn(ptr, len) and
// releases the copy.
func (c *TransactionComposer) callWithBytes(ctx context.Context, fn api.Function, op string, data []byte) ([]byte, error) {
	var ptr uint32
	if len(data) != 0 {
		var err error
		if ptr, err = c.allocBytes(ctx, data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGuestFault, op, err)
		}
		defer c.freePtr(ctx, ptr)
	}
	return c.callResult(ctx, fn, op, uint64(ptr), uint64(len(data)))
}

// callResult calls fn and decodes the packed result buffer it returns.
func (c *TransactionComposer) callResult(ctx context.Context, fn api.Function, op string, params ...uint64) ([]byte, error) {
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s failed: %w", ErrGuestFault, op, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d results, expected 1", ErrGuestFault, op, len(results))
	}
	ptr, size := uint32(results[0]>>32), uint32(results[0])
	if ptr == 0 {
		if size != 0 {
			return nil, fmt.Errorf("%w: %s returned null buffer of length %d", ErrGuestFault, op, size)
		}
		return nil, nil
	}
	defer c.freePtr(ctx, ptr)

	if size == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty result buffer", ErrGuestFault, op)
	}
	buf, ok := c.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("%w: %s result out of range: ptr=%d len=%d", ErrGuestFault, op, ptr, size)
	}
	// buf aliases guest memory; copy before the buffer is freed.
	payload := bytes.Clone(buf[1:])
	if buf[0] != resultStatusOK {
		return nil, &GuestError{Op: op, Message: string(payload)}
	}
	return payload, nil
}
