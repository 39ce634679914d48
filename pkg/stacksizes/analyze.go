package stacksizes

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sort"
	"strconv"
)

const (
	symtabSection     = ".symtab"
	stackSizesSection = ".stack_sizes"
)

// AnalyzeExecutable parses an ELF executable and returns the catalog of its
// functions and their recorded stack usage.
//
// Both the symbol table and the .stack_sizes section are optional: without
// the former the catalog is empty, without the latter every function's stack
// reads back as unknown. Decoding failures inside a present section abort
// the analysis; no partial catalog is returned on error.
func AnalyzeExecutable(buf []byte) (*Functions, error) {
	file, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to parse executable: %w", err)
	}
	defer file.Close()

	fns := newFunctions()

	if sec := file.Section(symtabSection); sec != nil {
		if err := parseSymtab(file, sec, fns); err != nil {
			return nil, err
		}
	}

	if sec := file.Section(stackSizesSection); sec != nil {
		if err := correlateStackSizes(sec, fns); err != nil {
			return nil, err
		}
	}

	return fns, nil
}

// symEntry is one decoded symbol table entry, width-independent.
type symEntry struct {
	nameOff uint32
	info    byte
	value   uint64
	size    uint64
}

// parseSymtab decodes the symbol table into the catalog: function symbols
// become defined or undefined entries, untyped symbols become alias
// candidates that are merged once the whole table has been read.
func parseSymtab(file *elf.File, sec *elf.Section, fns *Functions) error {
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", symtabSection, err)
	}

	var entrySize int
	switch sec.Entsize {
	case elf.Sym32Size:
		entrySize = elf.Sym32Size
		fns.is32 = true
	case elf.Sym64Size:
		entrySize = elf.Sym64Size
	default:
		return &MalformedInputError{
			Section: symtabSection,
			Reason:  fmt.Sprintf("symbol entry size %d is neither %d nor %d", sec.Entsize, elf.Sym32Size, elf.Sym64Size),
		}
	}
	if len(data)%entrySize != 0 {
		return &MalformedInputError{
			Section: symtabSection,
			Offset:  len(data) - len(data)%entrySize,
			Reason:  "truncated symbol entry",
		}
	}

	strs := stringTable(file, sec)

	aliases := map[uint64][]string{}
	order := file.ByteOrder
	for i := 0; i < len(data)/entrySize; i++ {
		raw := data[i*entrySize : (i+1)*entrySize]

		var ent symEntry
		if fns.is32 {
			ent.nameOff = order.Uint32(raw[0:4])
			ent.value = uint64(order.Uint32(raw[4:8]))
			ent.size = uint64(order.Uint32(raw[8:12]))
			ent.info = raw[12]
		} else {
			ent.nameOff = order.Uint32(raw[0:4])
			ent.info = raw[4]
			ent.value = order.Uint64(raw[8:16])
			ent.size = order.Uint64(raw[16:24])
		}

		switch elf.ST_TYPE(ent.info) {
		case elf.STT_FUNC:
			name, ok := lookupString(strs, ent.nameOff)
			if !ok {
				return &UnresolvedNameError{Section: symtabSection, Index: i, NameOffset: ent.nameOff}
			}
			if ent.value == 0 && ent.size == 0 {
				fns.undefined[name] = struct{}{}
			} else {
				fn := fns.insertDefined(ent.value, ent.size)
				fn.names = append(fn.names, name)
			}
		case elf.STT_NOTYPE:
			// Untyped symbols with unresolvable names carry no
			// information worth failing over.
			name, ok := lookupString(strs, ent.nameOff)
			if !ok || isMappingTag(name) {
				continue
			}
			aliases[ent.value] = append(aliases[ent.value], name)
		}
	}

	mergeAliases(fns, aliases)
	return nil
}

// mergeAliases attaches untyped-symbol names to the defined function sharing
// their address, trying the Thumb-bit variants of the address. Groups that
// match no function are dropped.
func mergeAliases(fns *Functions, aliases map[uint64][]string) {
	addrs := make([]uint64, 0, len(aliases))
	for addr := range aliases {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		if fn, ok := fns.atTolerant(addr); ok {
			fn.names = append(fn.names, aliases[addr]...)
		}
	}
}

// isMappingTag reports whether name is an ARM-style mapping symbol ($a, $t,
// $d, optionally suffixed with "." and a decimal numeral) marking an
// instruction-set or data region rather than naming a function.
func isMappingTag(name string) bool {
	switch name {
	case "$a", "$t", "$d":
		return true
	}
	if len(name) < 4 || name[0] != '$' || name[2] != '.' {
		return false
	}
	switch name[1] {
	case 'a', 't', 'd':
	default:
		return false
	}
	_, err := strconv.ParseUint(name[3:], 10, 64)
	return err == nil
}

// stringTable returns the raw bytes of the string table linked from sec, or
// nil when the link is absent or out of range. Lookups against a nil table
// simply fail.
func stringTable(file *elf.File, sec *elf.Section) []byte {
	if sec.Link == 0 || int(sec.Link) >= len(file.Sections) {
		return nil
	}
	strs, err := file.Sections[sec.Link].Data()
	if err != nil {
		return nil
	}
	return strs
}

// lookupString resolves a string table offset to the NUL-terminated string
// starting there.
func lookupString(strs []byte, off uint32) (string, bool) {
	if uint64(off) >= uint64(len(strs)) {
		return "", false
	}
	end := bytes.IndexByte(strs[off:], 0)
	if end < 0 {
		return "", false
	}
	return string(strs[off : int(off)+end]), true
}
