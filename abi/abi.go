package abi

// Syscall classes. Every trap out of a process carries one of these
// opcodes plus up to four word-sized arguments whose meaning depends on
// the class.
type Class uint32

const (
	Yield Class = iota
	Subscribe
	Command
	AllowReadWrite
	AllowReadOnly
	Memop
)

// Yield modes, carried in R0 of a Yield request.
const (
	YieldNoWait uint32 = 0
	YieldWait   uint32 = 1
)

// Memop operations, carried in R0 of a Memop request.
const (
	MemopBrk     uint32 = 0
	MemopSbrk    uint32 = 1
	MemopFlashlo uint32 = 2
	MemopFlashhi uint32 = 3
	MemopRAMlo   uint32 = 4
	MemopRAMhi   uint32 = 5
)

// Request is the decoded register state of a syscall trap. For
// Subscribe/Command/Allow classes R0 is the driver id and R1 the
// call/callback/buffer id; R2 and R3 are class-specific.
type Request struct {
	Class          Class
	R0, R1, R2, R3 uint32
}

// ErrorCode is the failure payload of a SyscallReturn. These values are
// part of the syscall ABI and are delivered to processes as normal
// return values, never escalated into kernel failures.
type ErrorCode uint32

const (
	Fail ErrorCode = iota + 1
	Busy
	Already
	Off
	Reserve
	Invalid
	Size
	Cancel
	NoMem
	NoSupport
	NoDevice
	Uninstalled
)

// Return variants. A return value is the variant tag plus up to three
// word payload fields, four words total on the wire.
type Variant uint32

const (
	Failure Variant = iota
	FailureWithValue
	Success
	SuccessWithValue
	SuccessWithValue2
	SuccessWithValue3
)

type SyscallReturn struct {
	Variant Variant
	Values  [3]uint32
}

func Failed(code ErrorCode) SyscallReturn {
	return SyscallReturn{Variant: Failure, Values: [3]uint32{uint32(code)}}
}

func FailedWithValue(code ErrorCode, val uint32) SyscallReturn {
	return SyscallReturn{Variant: FailureWithValue, Values: [3]uint32{uint32(code), val}}
}

func Ok() SyscallReturn {
	return SyscallReturn{Variant: Success}
}

func OkWithValue(val uint32) SyscallReturn {
	return SyscallReturn{Variant: SuccessWithValue, Values: [3]uint32{val}}
}

func OkWithValue2(v1, v2 uint32) SyscallReturn {
	return SyscallReturn{Variant: SuccessWithValue2, Values: [3]uint32{v1, v2}}
}

func OkWithValue3(v1, v2, v3 uint32) SyscallReturn {
	return SyscallReturn{Variant: SuccessWithValue3, Values: [3]uint32{v1, v2, v3}}
}

// Failed reports whether the return is one of the failure variants.
func (r SyscallReturn) Failed() bool {
	return r.Variant == Failure || r.Variant == FailureWithValue
}

// Error returns the error code of a failure variant, or 0.
func (r SyscallReturn) Error() ErrorCode {
	if !r.Failed() {
		return 0
	}

	return ErrorCode(r.Values[0])
}
