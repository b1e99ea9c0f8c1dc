// Package errors provides the error taxonomy shared by the host runtime,
// the memory bridge and the codecs.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
)

// Kind classifies an error so that callers can decide whether to abandon the
// call, retry it, or reload the plugin instance.
type Kind uint8

const (
	// KindUnknown is any error that is not part of the taxonomy.
	KindUnknown Kind = iota
	// KindLoad covers malformed modules, instantiation traps and unresolved imports.
	KindLoad
	// KindFunctionNotFound means the requested export is not in the function table.
	KindFunctionNotFound
	// KindSerialization covers encode and decode failures.
	KindSerialization
	// KindMemory covers out-of-range reads and writes, allocation and growth failures.
	KindMemory
	// KindGuestTrap means the guest faulted during execution.
	KindGuestTrap
	// KindHostFunction means a host-provided import failed while the guest was running.
	KindHostFunction
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindFunctionNotFound:
		return "function_not_found"
	case KindSerialization:
		return "serialization"
	case KindMemory:
		return "memory"
	case KindGuestTrap:
		return "guest_trap"
	case KindHostFunction:
		return "host_function"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrLoad             = stdErrors.New("plugin load failed")
	ErrFunctionNotFound = stdErrors.New("function not found")
	ErrSerialization    = stdErrors.New("serialization failed")
	ErrMemory           = stdErrors.New("guest memory access failed")
	ErrGuestTrap        = stdErrors.New("guest trapped")
	ErrHostFunction     = stdErrors.New("host function failed")
)

// KindOf reports the taxonomy kind of err. A guest trap caused by a failing
// host function is reported as KindGuestTrap, the outermost classification.
//
// Call-state errors of the host package are KindUnknown: ErrClosed,
// ErrReentrantCall and ErrArgumentMismatch are caller mistakes, and
// ErrPoisoned means the instance already trapped and must be reloaded.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case stdErrors.Is(err, ErrLoad):
		return KindLoad
	case stdErrors.Is(err, ErrFunctionNotFound):
		return KindFunctionNotFound
	case stdErrors.Is(err, ErrGuestTrap):
		return KindGuestTrap
	case stdErrors.Is(err, ErrSerialization):
		return KindSerialization
	case stdErrors.Is(err, ErrMemory):
		return KindMemory
	case stdErrors.Is(err, ErrHostFunction):
		return KindHostFunction
	default:
		return KindUnknown
	}
}

// LoadError represents a failure to construct a plugin instance.
type LoadError struct {
	Err   error
	Stage string // read, compile, link, instantiate, detect, resolve, initialize
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin load failed during %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoad
}

// FunctionNotFoundError is returned when a call names a function that the
// plugin does not export under the callable prefix.
type FunctionNotFoundError struct {
	Name string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function %q is not exported by the plugin", e.Name)
}

func (e *FunctionNotFoundError) Is(target error) bool {
	return target == ErrFunctionNotFound
}

// SerializationError carries the underlying codec diagnostic.
type SerializationError struct {
	Err       error
	Codec     string
	Operation string // encode or decode
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Codec, e.Operation, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

// MemoryError represents an out-of-range access or a failed allocation in
// guest linear memory.
type MemoryError struct {
	Err       error
	Operation string // read, write, grow, allocate, free
	Offset    uint32
	Length    uint32
	Size      uint32 // memory size in bytes at the time of the failure
}

func (e *MemoryError) Error() string {
	msg := fmt.Sprintf("memory %s failed at offset %d length %d (memory size %d)",
		e.Operation, e.Offset, e.Length, e.Size)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

func (e *MemoryError) Is(target error) bool {
	return target == ErrMemory
}

// GuestTrapError means the guest function faulted during execution.
type GuestTrapError struct {
	Err      error
	Function string
}

func (e *GuestTrapError) Error() string {
	return fmt.Sprintf("guest function %q trapped: %v", e.Function, e.Err)
}

func (e *GuestTrapError) Unwrap() error {
	return e.Err
}

func (e *GuestTrapError) Is(target error) bool {
	return target == ErrGuestTrap
}

// HostFunctionError is raised inside an import when the registered native
// function fails. It is converted into a guest trap so an unrelated failure
// never leaks into guest state.
type HostFunctionError struct {
	Err  error
	Name string
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function %q failed: %v", e.Name, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

func (e *HostFunctionError) Is(target error) bool {
	return target == ErrHostFunction
}
