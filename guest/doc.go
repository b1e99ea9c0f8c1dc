// Package guest is the plugin-side half of the calling convention, for Go
// modules compiled with GOOS=wasip1 GOARCH=wasm as reactors
// (-buildmode=c-shared).
//
// It exports the allocate and deallocate functions the host uses to move
// messages in and out of linear memory, decodes arguments and encodes results
// for exported plugin functions, and calls host functions through the import
// bridge.
//
// Exported plugin functions are declared by the plugin author, because
// go:wasmexport names must be static:
//
//	//go:wasmexport wasm_plugin_exported__greet
//	func greet(ptr, length uint32) uint64 {
//		return guest.Handle(ptr, length, func(name string) (string, error) {
//			return "hello " + name, nil
//		})
//	}
//
// Host functions are declared the same way and passed to CallImport:
//
//	//go:wasmimport env please_capitalize_this
//	func capitalize(ptr, length uint32) uint64
//
//	upper, err := guest.CallImport[string, string](capitalize, "hello")
package guest
