// Package hostfuncs provides the registry of host-defined native functions
// that guest modules may import.
//
// Handlers see only decoded values and bytes: reading arguments out of guest
// memory and writing results back is done by the host runtime, which links
// every registered name into the guest's import namespace at load time.
// This package has no WebAssembly runtime dependency.
package hostfuncs
