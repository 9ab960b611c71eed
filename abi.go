// Package composer provides a Go wrapper for building Aptos multi-call
// transaction scripts with a script composer WASM reactor running in wazero.
package composer

// ComposerWASMFilename is the conventional filename of the composer build.
const ComposerWASMFilename = "script_composer.wasm"

// Composer reactor exports.
//
// The upstream move script composer is published as a wasm-bindgen build
// whose exports only make sense to its JS glue. Loading it here requires a
// reactor shim crate that links the composer library and exports malloc,
// free and the functions below.
const (
	// ExportComposerInit creates the composer state.
	// Signature: composer_init(signer_count: i32) -> i32
	// Returns: 0 on success, non-zero on error
	ExportComposerInit = "composer_init"

	// ExportComposerStoreModule stores a compiled Move module so calls into
	// it can be resolved.
	// Signature: composer_store_module(ptr: i32, len: i32) -> i64 (result)
	// Result payload: BCS string module id.
	ExportComposerStoreModule = "composer_store_module"

	// ExportComposerAddBatchedCall appends one Move call.
	// Signature: composer_add_batched_call(ptr: i32, len: i32) -> i64 (result)
	// Request: BCS {module: string, function: string,
	//               ty_args: vector<string>, args: vector<CallArgument>}
	// Result payload: BCS vector<CallArgument>, one per return value.
	ExportComposerAddBatchedCall = "composer_add_batched_call"

	// ExportComposerGenerateBatchedCalls emits the composed script.
	// Signature: composer_generate_batched_calls(with_metadata: i32) -> i64 (result)
	// Result payload: BCS Script.
	ExportComposerGenerateBatchedCalls = "composer_generate_batched_calls"

	// ExportComposerDestroy releases the composer state.
	// Signature: composer_destroy() -> void
	ExportComposerDestroy = "composer_destroy"
)

// Memory management exports
const (
	// ExportMalloc allocates memory in WASM linear memory.
	// Signature: malloc(size: i32) -> i32 (pointer)
	ExportMalloc = "malloc"

	// ExportFree frees memory in WASM linear memory.
	// Signature: free(ptr: i32) -> void
	ExportFree = "free"
)

// ExportInitialize is the optional reactor initializer.
const ExportInitialize = "_initialize"

// Result buffers returned as i64 pack ptr<<32 | len. The first byte of the
// buffer is a status, the rest is the payload or a UTF-8 error message.
// The host frees the buffer.
const (
	resultStatusOK    = 0
	resultStatusError = 1
)

// requiredExports lists every function export the guest must provide.
var requiredExports = []string{
	ExportMalloc,
	ExportFree,
	ExportComposerInit,
	ExportComposerStoreModule,
	ExportComposerAddBatchedCall,
	ExportComposerGenerateBatchedCalls,
	ExportComposerDestroy,
}
