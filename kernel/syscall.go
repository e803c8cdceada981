package kernel

import (
	"github.com/RaresCon/tock/abi"
	"github.com/RaresCon/tock/mem"
)

// handleSyscall routes one decoded request. Everything a process can
// get wrong here — unknown driver, foreign buffer, bad call id — comes
// back as a normal failure return; nothing escalates past this
// function. Yield is handled by the scheduler, not here.
func (k *Kernel) handleSyscall(p *Process, req abi.Request) abi.SyscallReturn {
	k.L.Trace("syscall", "name", p.Name, "class", req.Class,
		"r0", req.R0, "r1", req.R1, "r2", req.R2, "r3", req.R3)

	switch req.Class {
	case abi.Subscribe:
		return k.sysSubscribe(p, req)
	case abi.Command:
		return k.sysCommand(p, req)
	case abi.AllowReadWrite:
		return k.sysAllowReadWrite(p, req)
	case abi.AllowReadOnly:
		return k.sysAllowReadOnly(p, req)
	case abi.Memop:
		return k.sysMemop(p, req)
	}

	return abi.Failed(abi.NoSupport)
}

func (k *Kernel) sysCommand(p *Process, req abi.Request) abi.SyscallReturn {
	d, ok := k.drivers.Lookup(req.R0)
	if !ok {
		return abi.Failed(abi.NoDevice)
	}

	return d.Command(p, req.R1, req.R2, req.R3)
}

// sysSubscribe lets the capsule veto the callback id, then commits the
// swap in the kernel-held table. The previous registration rides back
// in the success payload.
func (k *Kernel) sysSubscribe(p *Process, req abi.Request) abi.SyscallReturn {
	d, ok := k.drivers.Lookup(req.R0)
	if !ok {
		return abi.Failed(abi.NoDevice)
	}

	if ret := d.Subscribe(p, req.R1); ret.Failed() {
		return ret
	}

	return p.subscribe(req.R0, req.R1, req.R2, req.R3)
}

// The allow classes are the spatial-safety boundary: the buffer has to
// lie entirely inside memory the calling process owns before the
// capsule gets to see a slice of it.

func (k *Kernel) sysAllowReadWrite(p *Process, req abi.Request) abi.SyscallReturn {
	d, ok := k.drivers.Lookup(req.R0)
	if !ok {
		return abi.Failed(abi.NoDevice)
	}

	buf, ok := p.ramSlice(mem.Range{Start: req.R2, Size: req.R3})
	if !ok {
		return abi.Failed(abi.Invalid)
	}

	ret := d.AllowReadWrite(p, req.R1, buf)
	if !ret.Failed() {
		p.storeAllow(p.allows.rw, req.R0, req.R1, buf)
	}

	return ret
}

func (k *Kernel) sysAllowReadOnly(p *Process, req abi.Request) abi.SyscallReturn {
	d, ok := k.drivers.Lookup(req.R0)
	if !ok {
		return abi.Failed(abi.NoDevice)
	}

	buf, ok := p.roSlice(mem.Range{Start: req.R2, Size: req.R3})
	if !ok {
		return abi.Failed(abi.Invalid)
	}

	ret := d.AllowReadOnly(p, req.R1, buf)
	if !ret.Failed() {
		p.storeAllow(p.allows.ro, req.R0, req.R1, buf)
	}

	return ret
}

func (k *Kernel) sysMemop(p *Process, req abi.Request) abi.SyscallReturn {
	switch req.R0 {
	case abi.MemopBrk:
		return p.setBrk(req.R1)

	case abi.MemopSbrk:
		return p.setBrk(p.brk + req.R1)

	case abi.MemopFlashlo:
		return abi.OkWithValue(p.Flash.Start)

	case abi.MemopFlashhi:
		return abi.OkWithValue(p.Flash.End())

	case abi.MemopRAMlo:
		return abi.OkWithValue(p.RAM.Start)

	case abi.MemopRAMhi:
		return abi.OkWithValue(p.RAM.End())
	}

	return abi.Failed(abi.NoSupport)
}

// setBrk moves the app break. The break may never drop below the data
// and stack reservation, nor enter the grant area, that space belongs
// to the kernel's per-capsule storage.
func (p *Process) setBrk(addr uint32) abi.SyscallReturn {
	if addr < p.brkFloor() || addr > p.grantTop {
		return abi.Failed(abi.NoMem)
	}

	p.brk = addr

	return abi.OkWithValue(p.brk)
}

// writeReturn encodes a syscall return into the register snapshot the
// process resumes with.
func (p *Process) writeReturn(ret abi.SyscallReturn) {
	p.regs.R0 = uint32(ret.Variant)
	p.regs.R1 = ret.Values[0]
	p.regs.R2 = ret.Values[1]
	p.regs.R3 = ret.Values[2]
}
