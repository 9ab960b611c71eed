package fakecomposer

// The guest is a hand-assembled core module. It exports the composer ABI,
// keeps a bump allocator in a global, and forwards every composer export to
// a host import of the same shape in ImportModule.

const (
	valI32 = 0x7f
	valI64 = 0x7e

	opEnd       = 0x0b
	opCall      = 0x10
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Const  = 0x41
	opI32Add    = 0x6a
	opI32And    = 0x71

	exportFunc   = 0x00
	exportMemory = 0x02

	heapBase    = 1024
	memoryPages = 16
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func body(code ...byte) []byte {
	content := append([]byte{0x00}, code...) // no locals
	content = append(content, opEnd)
	return append(uleb(uint32(len(content))), content...)
}

func buildGuest() []byte {
	const (
		typeI32ToI32 = iota
		typeI32I32ToI64
		typeI32ToI64
		typeVoid
		typeI32ToVoid
	)
	types := vec(
		funcType([]byte{valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32}, []byte{valI64}),
		funcType([]byte{valI32}, []byte{valI64}),
		funcType(nil, nil),
		funcType([]byte{valI32}, nil),
	)

	imp := func(field string, typeIdx byte) []byte {
		out := name(ImportModule)
		out = append(out, name(field)...)
		return append(out, exportFunc, typeIdx)
	}
	// imported functions take indexes 0..4
	imports := vec(
		imp(ImportInit, typeI32ToI32),
		imp(ImportStoreModule, typeI32I32ToI64),
		imp(ImportAddBatchedCall, typeI32I32ToI64),
		imp(ImportGenerate, typeI32ToI64),
		imp(ImportDestroy, typeVoid),
	)

	// defined functions take indexes 5..11
	funcs := vec(
		[]byte{typeI32ToI32},    // 5 malloc
		[]byte{typeI32ToVoid},   // 6 free
		[]byte{typeI32ToI32},    // 7 composer_init
		[]byte{typeI32I32ToI64}, // 8 composer_store_module
		[]byte{typeI32I32ToI64}, // 9 composer_add_batched_call
		[]byte{typeI32ToI64},    // 10 composer_generate_batched_calls
		[]byte{typeVoid},        // 11 composer_destroy
	)

	memory := vec(append([]byte{0x00}, uleb(memoryPages)...))

	globalInit := append([]byte{valI32, 0x01, opI32Const}, sleb(heapBase)...)
	globals := vec(append(globalInit, opEnd))

	exp := func(field string, kind byte, idx byte) []byte {
		return append(name(field), kind, idx)
	}
	exports := vec(
		exp("memory", exportMemory, 0),
		exp("malloc", exportFunc, 5),
		exp("free", exportFunc, 6),
		exp("composer_init", exportFunc, 7),
		exp("composer_store_module", exportFunc, 8),
		exp("composer_add_batched_call", exportFunc, 9),
		exp("composer_generate_batched_calls", exportFunc, 10),
		exp("composer_destroy", exportFunc, 11),
	)

	var mallocCode []byte
	mallocCode = append(mallocCode, opGlobalGet, 0, opGlobalGet, 0, opLocalGet, 0, opI32Const)
	mallocCode = append(mallocCode, sleb(7)...)
	mallocCode = append(mallocCode, opI32Add, opI32Const)
	mallocCode = append(mallocCode, sleb(-8)...)
	mallocCode = append(mallocCode, opI32And, opI32Add, opGlobalSet, 0)

	code := vec(
		body(mallocCode...),
		body(),
		body(opLocalGet, 0, opCall, 0),
		body(opLocalGet, 0, opLocalGet, 1, opCall, 1),
		body(opLocalGet, 0, opLocalGet, 1, opCall, 2),
		body(opLocalGet, 0, opCall, 3),
		body(opCall, 4),
	)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(2, imports)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(6, globals)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	return out
}
