// Package host provides the runtime environment for executing wasm plugins.
//
// It abstracts the underlying WASM engine (wazero), manages plugin lifecycle,
// and implements both calling conventions a guest may be compiled against:
// the fixed-buffer convention, where every message travels through one static
// guest buffer, and the fat-pointer convention, where messages live in
// buffers obtained from the guest's allocate export and are located by a
// single packed (length, pointer) integer. The convention is detected from the
// module's exports when it is loaded, or forced through configuration.
//
// Host functions registered in a hostfuncs.HandlerRegistry are linked into the
// guest's import namespace and marshaled through the same convention in the
// opposite direction.
package host
