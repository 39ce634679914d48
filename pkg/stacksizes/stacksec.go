package stacksizes

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/dennwc/varint"
)

// correlateStackSizes decodes the .stack_sizes section and attaches each
// record's stack byte count to the defined function at its address.
//
// The section is a tightly packed sequence of records with no headers or
// padding: a little-endian address (4 bytes for 32-bit executables, 8
// otherwise) followed by a ULEB128 stack byte count. Records whose address
// matches no defined function under the Thumb-bit tolerance are dropped;
// the linker may well have eliminated the function after the compiler
// emitted the record.
func correlateStackSizes(sec *elf.Section, fns *Functions) error {
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", stackSizesSection, err)
	}

	addrSize := 8
	if fns.is32 {
		addrSize = 4
	}

	for p := 0; p < len(data); {
		if p+addrSize > len(data) {
			return &MalformedInputError{
				Section: stackSizesSection,
				Offset:  p,
				Reason:  fmt.Sprintf("truncated record address: need %d bytes, have %d", addrSize, len(data)-p),
			}
		}
		var addr uint64
		if addrSize == 4 {
			addr = uint64(binary.LittleEndian.Uint32(data[p:]))
		} else {
			addr = binary.LittleEndian.Uint64(data[p:])
		}

		stack, n := varint.Uvarint(data[p+addrSize:])
		if n <= 0 {
			return &MalformedInputError{
				Section: stackSizesSection,
				Offset:  p + addrSize,
				Reason:  "truncated or overlong ULEB128 stack size",
			}
		}
		p += addrSize + n

		if fn, ok := fns.atTolerant(addr); ok && !fn.hasStack {
			fn.stack = stack
			fn.hasStack = true
		}
	}

	return nil
}
