// Package wasmbin encodes the minimal core WebAssembly modules the linear
// heap instantiates.
package wasmbin

import (
	"bytes"
)

const (
	magic   = 0x6d736100 // "\0asm"
	version = 0x01

	sectionType     = 0x01
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionGlobal   = 0x06
	sectionExport   = 0x07
	sectionCode     = 0x0a

	kindFunc   = 0x00
	kindMemory = 0x02

	typeFunc = 0x60
	typeI32  = 0x7f

	limitsMin    = 0x00
	limitsMinMax = 0x01
)

// PageSize is the WebAssembly memory page size in bytes.
const PageSize = 65536

// MemoryModule encodes a module that defines one memory and exports it
// under name. maxPages 0 leaves the memory unbounded.
func MemoryModule(name string, minPages, maxPages uint32) []byte {
	var w bytes.Buffer
	writeHeader(&w)
	writeSection(&w, sectionMemory, memorySection(minPages, maxPages))

	var exp bytes.Buffer
	WriteLEB128u(&exp, 1)
	writeExport(&exp, name, kindMemory, 0)
	writeSection(&w, sectionExport, exp.Bytes())

	return w.Bytes()
}

// BumpAllocatorModule encodes a module exporting a memory and a
// cabi_realloc-shaped function (old_ptr, old_size, align, new_size) -> ptr
// backed by a bump pointer starting at base. Frees and reallocations are
// ignored; it returns 0 once the request does not fit in the current memory.
func BumpAllocatorModule(memName, reallocName string, minPages, base uint32) []byte {
	var w bytes.Buffer
	writeHeader(&w)

	typ := []byte{0x01, typeFunc, 0x04, typeI32, typeI32, typeI32, typeI32, 0x01, typeI32}
	writeSection(&w, sectionType, typ)
	writeSection(&w, sectionFunction, []byte{0x01, 0x00})
	writeSection(&w, sectionMemory, memorySection(minPages, 0))

	var glob bytes.Buffer
	glob.Write([]byte{0x01, typeI32, 0x01, opI32Const})
	WriteLEB128s(&glob, int32(base))
	glob.WriteByte(opEnd)
	writeSection(&w, sectionGlobal, glob.Bytes())

	var exp bytes.Buffer
	WriteLEB128u(&exp, 2)
	writeExport(&exp, memName, kindMemory, 0)
	writeExport(&exp, reallocName, kindFunc, 0)
	writeSection(&w, sectionExport, exp.Bytes())

	body := append([]byte{0x01, 0x01, typeI32}, bumpBody...)
	var code bytes.Buffer
	WriteLEB128u(&code, 1)
	WriteLEB128u(&code, uint32(len(body)))
	code.Write(body)
	writeSection(&w, sectionCode, code.Bytes())

	return w.Bytes()
}

const (
	opIf         = 0x04
	opEnd        = 0x0b
	opReturn     = 0x0f
	opLocalGet   = 0x20
	opLocalTee   = 0x22
	opGlobalGet  = 0x23
	opGlobalSet  = 0x24
	opMemorySize = 0x3f
	opI32Const   = 0x41
	opI32Eqz     = 0x45
	opI32GtU     = 0x4b
	opI32Add     = 0x6a
	opI32Sub     = 0x6b
	opI32And     = 0x71
	opI32Shl     = 0x74

	blockEmpty = 0x40
)

// Params are locals 0..3 (old_ptr, old_size, align, new_size); local 4 is
// the aligned result.
var bumpBody = []byte{
	// new_size == 0 is a free.
	opLocalGet, 3,
	opI32Eqz,
	opIf, blockEmpty,
	opI32Const, 0,
	opReturn,
	opEnd,

	// ptr = (top + align - 1) & -align
	opGlobalGet, 0,
	opLocalGet, 2,
	opI32Add,
	opI32Const, 1,
	opI32Sub,
	opI32Const, 0,
	opLocalGet, 2,
	opI32Sub,
	opI32And,
	opLocalTee, 4,

	// ptr + new_size > memory bytes
	opLocalGet, 3,
	opI32Add,
	opMemorySize, 0x00,
	opI32Const, 16,
	opI32Shl,
	opI32GtU,
	opIf, blockEmpty,
	opI32Const, 0,
	opReturn,
	opEnd,

	opLocalGet, 4,
	opLocalGet, 3,
	opI32Add,
	opGlobalSet, 0,
	opLocalGet, 4,
	opEnd,
}

func writeHeader(w *bytes.Buffer) {
	writeU32LE(w, magic)
	writeU32LE(w, version)
}

func memorySection(minPages, maxPages uint32) []byte {
	var mem bytes.Buffer
	WriteLEB128u(&mem, 1)
	if maxPages > 0 {
		mem.WriteByte(limitsMinMax)
		WriteLEB128u(&mem, minPages)
		WriteLEB128u(&mem, maxPages)
	} else {
		mem.WriteByte(limitsMin)
		WriteLEB128u(&mem, minPages)
	}
	return mem.Bytes()
}

func writeExport(w *bytes.Buffer, name string, kind byte, index uint32) {
	writeName(w, name)
	w.WriteByte(kind)
	WriteLEB128u(w, index)
}

// WriteLEB128u writes an unsigned LEB128 value
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteLEB128s writes a signed LEB128 value
func WriteLEB128s(w *bytes.Buffer, v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		w.WriteByte(b)
		if done {
			break
		}
	}
}

func writeSection(w *bytes.Buffer, id byte, content []byte) {
	w.WriteByte(id)
	WriteLEB128u(w, uint32(len(content)))
	w.Write(content)
}

func writeName(w *bytes.Buffer, name string) {
	WriteLEB128u(w, uint32(len(name)))
	w.WriteString(name)
}

func writeU32LE(w *bytes.Buffer, v uint32) {
	w.WriteByte(byte(v))
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v >> 16))
	w.WriteByte(byte(v >> 24))
}
