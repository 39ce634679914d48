// Package stacksizestest assembles minimal ELF images in memory for testing
// code that consumes stacksizes catalogs: a section header table plus
// .symtab/.strtab/.shstrtab and optionally .stack_sizes. Nothing in the
// produced image is loadable.
package stacksizestest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Builder accumulates symbols and stack-size records and renders them as an
// ELF image. The zero value builds a little-endian 64-bit image.
type Builder struct {
	// Class32 builds an ELFCLASS32 image with 4-byte addresses.
	Class32 bool
	// BigEndian encodes the ELF header, section headers and symbol
	// entries big-endian. Stack record addresses are little-endian
	// either way, matching what compilers emit.
	BigEndian bool
	// NoSymtab omits the .symtab and .strtab sections entirely.
	NoSymtab bool
	// SymtabEntSize overrides the symbol entry size recorded in the
	// section header when nonzero, leaving the entries themselves at
	// their natural width.
	SymtabEntSize uint64
	// StackSection forces an (empty) .stack_sizes section even when no
	// records were added.
	StackSection bool

	syms      []testSym
	stackData []byte
}

type testSym struct {
	name    string
	nameOff uint32
	rawName bool
	value   uint64
	size    uint64
	typ     elf.SymType
}

// AddFunc adds a function symbol.
func (b *Builder) AddFunc(name string, value, size uint64) {
	b.syms = append(b.syms, testSym{name: name, value: value, size: size, typ: elf.STT_FUNC})
}

// AddNoType adds an untyped symbol, the raw material for aliases and
// mapping tags.
func (b *Builder) AddNoType(name string, value uint64) {
	b.syms = append(b.syms, testSym{name: name, value: value, typ: elf.STT_NOTYPE})
}

// AddRawNameSym adds a symbol whose name index is written verbatim instead
// of resolving against the string table, for exercising unresolvable names.
func (b *Builder) AddRawNameSym(nameOff uint32, value, size uint64, typ elf.SymType) {
	b.syms = append(b.syms, testSym{nameOff: nameOff, rawName: true, value: value, size: size, typ: typ})
}

// AddStackRecord appends one (address, ULEB128 stack) record to the
// .stack_sizes payload, using the builder's address width.
func (b *Builder) AddStackRecord(addr, stack uint64) {
	b.StackSection = true
	if b.Class32 {
		b.stackData = binary.LittleEndian.AppendUint32(b.stackData, uint32(addr))
	} else {
		b.stackData = binary.LittleEndian.AppendUint64(b.stackData, addr)
	}
	b.stackData = binary.AppendUvarint(b.stackData, stack)
}

// AddRawStack appends raw bytes to the .stack_sizes payload, for building
// truncated records.
func (b *Builder) AddRawStack(data ...byte) {
	b.StackSection = true
	b.stackData = append(b.stackData, data...)
}

// imageByteOrder is the byte order used for the header, section headers and
// symbol entries. The .stack_sizes payload does not go through it.
type imageByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func (b *Builder) order() imageByteOrder {
	if b.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type section struct {
	name    string
	typ     uint32
	data    []byte
	link    uint32
	entsize uint64
}

// Build renders the ELF image.
func (b *Builder) Build() []byte {
	strtab := []byte{0}
	nameOff := func(s *testSym) uint32 {
		if s.rawName {
			return s.nameOff
		}
		off := uint32(len(strtab))
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
		return off
	}

	entSize := elf.Sym64Size
	if b.Class32 {
		entSize = elf.Sym32Size
	}
	bo := b.order()
	symtab := make([]byte, entSize) // index 0: the null symbol
	for i := range b.syms {
		s := &b.syms[i]
		info := byte(elf.STB_GLOBAL)<<4 | byte(s.typ)
		off := nameOff(s)
		if b.Class32 {
			symtab = bo.AppendUint32(symtab, off)
			symtab = bo.AppendUint32(symtab, uint32(s.value))
			symtab = bo.AppendUint32(symtab, uint32(s.size))
			symtab = append(symtab, info, 0, 1, 0) // info, other, st_shndx
		} else {
			symtab = bo.AppendUint32(symtab, off)
			symtab = append(symtab, info, 0, 1, 0)
			symtab = bo.AppendUint64(symtab, s.value)
			symtab = bo.AppendUint64(symtab, s.size)
		}
	}

	symtabEnt := uint64(entSize)
	if b.SymtabEntSize != 0 {
		symtabEnt = b.SymtabEntSize
	}

	sections := []section{{}} // index 0: SHT_NULL
	if !b.NoSymtab {
		sections = append(sections,
			section{name: ".symtab", typ: uint32(elf.SHT_SYMTAB), data: symtab, link: 2, entsize: symtabEnt},
			section{name: ".strtab", typ: uint32(elf.SHT_STRTAB), data: strtab},
		)
	}
	if b.StackSection {
		sections = append(sections, section{name: ".stack_sizes", typ: uint32(elf.SHT_PROGBITS), data: b.stackData})
	}

	shstrndx := len(sections)
	shstrtab := []byte{0}
	shNames := make([]uint32, len(sections)+1)
	for i, sec := range sections {
		if sec.name == "" {
			continue
		}
		shNames[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, sec.name...)
		shstrtab = append(shstrtab, 0)
	}
	shNames[shstrndx] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)
	sections = append(sections, section{name: ".shstrtab", typ: uint32(elf.SHT_STRTAB), data: shstrtab})

	ehSize, shentSize := 64, 64
	if b.Class32 {
		ehSize, shentSize = 52, 40
	}
	shoff := ehSize
	dataOff := shoff + shentSize*len(sections)

	var buf bytes.Buffer
	b.writeHeader(&buf, shoff, len(sections), shstrndx)

	off := dataOff
	for i, sec := range sections {
		b.writeSectionHeader(&buf, shNames[i], sec, off)
		off += len(sec.data)
	}
	for _, sec := range sections {
		buf.Write(sec.data)
	}
	return buf.Bytes()
}

func (b *Builder) writeHeader(buf *bytes.Buffer, shoff, shnum, shstrndx int) {
	ident := make([]byte, 16)
	copy(ident, elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	if b.BigEndian {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	machine := uint16(elf.EM_X86_64)
	if b.Class32 {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
		machine = uint16(elf.EM_ARM)
	}
	buf.Write(ident)

	bo := b.order()
	w16 := func(v uint16) { _ = binary.Write(buf, bo, v) }
	w32 := func(v uint32) { _ = binary.Write(buf, bo, v) }
	w64 := func(v uint64) { _ = binary.Write(buf, bo, v) }
	wAddr := func(v uint64) {
		if b.Class32 {
			w32(uint32(v))
		} else {
			w64(v)
		}
	}

	ehSize, shentSize := uint16(64), uint16(64)
	if b.Class32 {
		ehSize, shentSize = 52, 40
	}

	w16(uint16(elf.ET_EXEC))
	w16(machine)
	w32(uint32(elf.EV_CURRENT))
	wAddr(0)             // e_entry
	wAddr(0)             // e_phoff
	wAddr(uint64(shoff)) // e_shoff
	w32(0)               // e_flags
	w16(ehSize)
	w16(0) // e_phentsize
	w16(0) // e_phnum
	w16(shentSize)
	w16(uint16(shnum))
	w16(uint16(shstrndx))
}

func (b *Builder) writeSectionHeader(buf *bytes.Buffer, name uint32, sec section, off int) {
	bo := b.order()
	w32 := func(v uint32) { _ = binary.Write(buf, bo, v) }
	w64 := func(v uint64) { _ = binary.Write(buf, bo, v) }
	wAddr := func(v uint64) {
		if b.Class32 {
			w32(uint32(v))
		} else {
			w64(v)
		}
	}

	if sec.typ == uint32(elf.SHT_NULL) {
		off = 0
	}
	w32(name)
	w32(sec.typ)
	wAddr(0) // sh_flags
	wAddr(0) // sh_addr
	wAddr(uint64(off))
	wAddr(uint64(len(sec.data)))
	w32(sec.link)
	w32(0) // sh_info
	wAddr(1)
	wAddr(sec.entsize)
}
