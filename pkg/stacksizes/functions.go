package stacksizes

import (
	"sort"

	"github.com/google/btree"
)

// Function is one defined subroutine: its entry address, the symbol names
// attached to it (canonical name first, aliases after, in discovery order),
// its code size, and the stack frame size recorded for it, if any.
type Function struct {
	addr     uint64
	names    []string
	size     uint64
	stack    uint64
	hasStack bool
}

// Addr returns the function's entry address as it appears in the symbol
// table, including any instruction-set mode bit.
func (f *Function) Addr() uint64 { return f.addr }

// Names returns the function's symbol names in discovery order. Names are
// raw linker symbols; demangling is the consumer's concern.
func (f *Function) Names() []string { return f.names }

// Size returns the byte length of the function's code.
func (f *Function) Size() uint64 { return f.size }

// Stack returns the function's recorded maximum stack frame in bytes.
// The second result is false when the executable carried no stack-size
// record for this function.
func (f *Function) Stack() (uint64, bool) { return f.stack, f.hasStack }

// Functions is the catalog produced by AnalyzeExecutable. Defined functions
// are kept in an ordered map keyed by entry address so iteration is
// deterministic.
type Functions struct {
	is32      bool
	defined   *btree.BTreeG[*Function]
	undefined map[string]struct{}
}

func newFunctions() *Functions {
	return &Functions{
		defined: btree.NewG(2, func(a, b *Function) bool {
			return a.addr < b.addr
		}),
		undefined: map[string]struct{}{},
	}
}

// Is32Bit reports whether the executable uses 4-byte addresses. It is
// derived from the symbol table entry encoding and decides the address
// width of .stack_sizes records.
func (fs *Functions) Is32Bit() bool { return fs.is32 }

// NumDefined returns the number of defined functions.
func (fs *Functions) NumDefined() int { return fs.defined.Len() }

// At returns the defined function at exactly addr.
func (fs *Functions) At(addr uint64) (*Function, bool) {
	return fs.defined.Get(&Function{addr: addr})
}

// Ascend walks the defined functions in ascending address order until fn
// returns false.
func (fs *Functions) Ascend(fn func(*Function) bool) {
	fs.defined.Ascend(fn)
}

// Undefined returns the sorted names of function symbols that have no
// address and no size: external references left unresolved at link time.
func (fs *Functions) Undefined() []string {
	names := make([]string, 0, len(fs.undefined))
	for name := range fs.undefined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// atTolerant looks up a defined function, tolerating the convention where
// the address's least-significant bit flags a compressed instruction set
// (Thumb) rather than contributing to the location. The bit-set variant is
// tried first, then the bit-clear one.
func (fs *Functions) atTolerant(addr uint64) (*Function, bool) {
	if fn, ok := fs.At(addr | 1); ok {
		return fn, true
	}
	return fs.At(addr &^ 1)
}

// insertDefined returns the function at addr, creating it with the given
// code size on first sight. Later entries at the same address keep the
// original size and only contribute names.
func (fs *Functions) insertDefined(addr, size uint64) *Function {
	if fn, ok := fs.At(addr); ok {
		return fn
	}
	fn := &Function{addr: addr, size: size}
	fs.defined.ReplaceOrInsert(fn)
	return fn
}
