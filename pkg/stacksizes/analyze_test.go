package stacksizes

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackaudit/stackaudit/pkg/stacksizes/stacksizestest"
)

func mustStack(t *testing.T, fns *Functions, addr uint64) uint64 {
	t.Helper()
	fn, ok := fns.At(addr)
	require.True(t, ok, "no function at %#x", addr)
	stack, ok := fn.Stack()
	require.True(t, ok, "function at %#x has no stack record", addr)
	return stack
}

func TestAnalyzeExecutable_NotELF(t *testing.T) {
	_, err := AnalyzeExecutable([]byte("definitely not an executable"))
	require.Error(t, err)
}

func TestAnalyzeExecutable_NoSymtab(t *testing.T) {
	b := &stacksizestest.Builder{NoSymtab: true}

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)
	assert.Equal(t, 0, fns.NumDefined())
	assert.Empty(t, fns.Undefined())
	assert.False(t, fns.Is32Bit())
}

func TestAnalyzeExecutable_NoStackSection(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("main", 0x1000, 32)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	_, hasStack := fn.Stack()
	assert.False(t, hasStack)
}

func TestAnalyzeExecutable_SharedAddressKeepsAllNames(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("strong_name", 0x1000, 24)
	b.AddFunc("weak_alias", 0x1000, 8)
	b.AddFunc("other", 0x2000, 16)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)
	require.Equal(t, 2, fns.NumDefined())

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	assert.Equal(t, []string{"strong_name", "weak_alias"}, fn.Names())
	// The first entry at an address fixes the size.
	assert.Equal(t, uint64(24), fn.Size())
}

func TestAnalyzeExecutable_ZeroAddrZeroSizeIsUndefined(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("extern_fn", 0, 0)
	b.AddFunc("local_fn", 0x1000, 16)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	assert.Equal(t, []string{"extern_fn"}, fns.Undefined())
	assert.Equal(t, 1, fns.NumDefined())
	_, ok := fns.At(0)
	assert.False(t, ok)
}

func TestAnalyzeExecutable_AliasAttachment(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("even_fn", 0x1000, 16)
	b.AddFunc("odd_fn", 0x2001, 16)
	b.AddNoType("even_alias", 0x1000)  // exact address, found via the cleared bit
	b.AddNoType("odd_alias", 0x2000)   // finds odd_fn via the set bit
	b.AddNoType("orphan_alias", 0x9000)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	assert.Equal(t, []string{"even_fn", "even_alias"}, fn.Names())

	fn, ok = fns.At(0x2001)
	require.True(t, ok)
	assert.Equal(t, []string{"odd_fn", "odd_alias"}, fn.Names())

	// The orphan group matched nothing and is silently dropped.
	assert.Equal(t, 2, fns.NumDefined())
}

func TestAnalyzeExecutable_MappingTagsNeverAlias(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddNoType("$a", 0x1000)
	b.AddNoType("$t", 0x1000)
	b.AddNoType("$d", 0x1000)
	b.AddNoType("$t.42", 0x1000)
	b.AddNoType("$d.0", 0x1000)
	b.AddNoType("$a.label", 0x1000) // non-numeric suffix: a real alias

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	assert.Equal(t, []string{"fn", "$a.label"}, fn.Names())
}

func TestAnalyzeExecutable_StackLowBitTolerance(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("even_fn", 0x1000, 16)
	b.AddFunc("odd_fn", 0x2001, 16)
	b.AddStackRecord(0x1001, 24) // bit set, function address clear
	b.AddStackRecord(0x2000, 48) // bit clear, function address set

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	assert.Equal(t, uint64(24), mustStack(t, fns, 0x1000))
	assert.Equal(t, uint64(48), mustStack(t, fns, 0x2001))
}

func TestAnalyzeExecutable_UnmatchedStackRecordDropped(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddStackRecord(0x1000, 24)
	b.AddStackRecord(0x9998, 4096) // linker-eliminated function

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)
	assert.Equal(t, uint64(24), mustStack(t, fns, 0x1000))
}

func TestAnalyzeExecutable_FirstStackRecordWins(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1001, 16)
	b.AddStackRecord(0x1000, 10)
	b.AddStackRecord(0x1001, 20)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), mustStack(t, fns, 0x1001))
}

func TestAnalyzeExecutable_EmptyStackSection(t *testing.T) {
	b := &stacksizestest.Builder{StackSection: true}
	b.AddFunc("fn", 0x1000, 16)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, _ := fns.At(0x1000)
	_, hasStack := fn.Stack()
	assert.False(t, hasStack)
}

func TestAnalyzeExecutable_TruncatedLEB128(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddRawStack(0x00, 0x10, 0, 0, 0, 0, 0, 0) // 8-byte address...
	b.AddRawStack(0x80)                          // ...continuation bit with nothing after

	_, err := AnalyzeExecutable(b.Build())
	require.ErrorIs(t, err, ErrMalformedInput)

	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, ".stack_sizes", malformed.Section)
	assert.Equal(t, 8, malformed.Offset)
}

func TestAnalyzeExecutable_TruncatedRecordAddress(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddStackRecord(0x1000, 24)
	b.AddRawStack(0xab, 0xcd) // not enough bytes for another address

	_, err := AnalyzeExecutable(b.Build())
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestAnalyzeExecutable_BadSymbolEntrySize(t *testing.T) {
	b := &stacksizestest.Builder{SymtabEntSize: 20}
	b.AddFunc("fn", 0x1000, 16)

	_, err := AnalyzeExecutable(b.Build())
	require.ErrorIs(t, err, ErrMalformedInput)

	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, ".symtab", malformed.Section)
}

func TestAnalyzeExecutable_UnresolvedFunctionName(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddRawNameSym(0xffff, 0x1000, 16, elf.STT_FUNC)

	_, err := AnalyzeExecutable(b.Build())
	require.ErrorIs(t, err, ErrUnresolvedName)

	var unresolved *UnresolvedNameError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, ".symtab", unresolved.Section)
	assert.Equal(t, uint32(0xffff), unresolved.NameOffset)
}

func TestAnalyzeExecutable_UnresolvedUntypedNameSkipped(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddRawNameSym(0xffff, 0x1000, 0, elf.STT_NOTYPE)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, _ := fns.At(0x1000)
	assert.Equal(t, []string{"fn"}, fn.Names())
}

func TestAnalyzeExecutable_32BitAddresses(t *testing.T) {
	b := &stacksizestest.Builder{Class32: true}
	b.AddFunc("thumb_fn", 0x8001, 12)
	b.AddStackRecord(0x8000, 64)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	assert.True(t, fns.Is32Bit())
	assert.Equal(t, uint64(64), mustStack(t, fns, 0x8001))
}

func TestAnalyzeExecutable_BigEndianSymbolTable(t *testing.T) {
	b := &stacksizestest.Builder{BigEndian: true}
	b.AddFunc("fn", 0x1000, 16)
	b.AddNoType("alias", 0x1000)
	b.AddStackRecord(0x1001, 24) // record addresses are little-endian even here

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	assert.Equal(t, []string{"fn", "alias"}, fn.Names())
	assert.Equal(t, uint64(16), fn.Size())
	assert.Equal(t, uint64(24), mustStack(t, fns, 0x1000))
}

func TestAnalyzeExecutable_BigEndian32Bit(t *testing.T) {
	b := &stacksizestest.Builder{BigEndian: true, Class32: true}
	b.AddFunc("fn", 0x8000, 12)
	b.AddStackRecord(0x8001, 64)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	assert.True(t, fns.Is32Bit())
	assert.Equal(t, uint64(64), mustStack(t, fns, 0x8000))
}

func TestAnalyzeExecutable_TruncatedSymbolEntry(t *testing.T) {
	// A 32-bit table declared with the 64-bit entry size: the section data
	// no longer divides evenly into entries.
	b := &stacksizestest.Builder{Class32: true, SymtabEntSize: uint64(elf.Sym64Size)}
	b.AddFunc("fn", 0x1000, 16)

	_, err := AnalyzeExecutable(b.Build())
	require.ErrorIs(t, err, ErrMalformedInput)

	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, ".symtab", malformed.Section)
	assert.Equal(t, "truncated symbol entry", malformed.Reason)
}

func TestAnalyzeExecutable_EndToEnd(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("foo", 0x1000, 16)
	b.AddStackRecord(0x1001, 24)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	fn, ok := fns.At(0x1000)
	require.True(t, ok)
	assert.Equal(t, []string{"foo"}, fn.Names())
	assert.Equal(t, uint64(16), fn.Size())
	assert.Equal(t, uint64(24), mustStack(t, fns, 0x1000))
}

func TestAnalyzeExecutable_NoPartialCatalogOnError(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("fn", 0x1000, 16)
	b.AddRawStack(0x80)

	fns, err := AnalyzeExecutable(b.Build())
	require.Error(t, err)
	assert.Nil(t, fns)
}

func TestIsMappingTag(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"$a", true},
		{"$t", true},
		{"$d", true},
		{"$a.0", true},
		{"$t.42", true},
		{"$d.100000", true},
		{"$a.", false},
		{"$a.x", false},
		{"$t.1.2", false},
		{"$b", false},
		{"$aa", false},
		{"a", false},
		{"", false},
		{"main", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isMappingTag(tc.name))
		})
	}
}

func TestFunctions_AscendOrder(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("c", 0x3000, 1)
	b.AddFunc("a", 0x1000, 1)
	b.AddFunc("b", 0x2000, 1)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)

	var addrs []uint64
	fns.Ascend(func(fn *Function) bool {
		addrs = append(addrs, fn.Addr())
		return true
	})
	assert.Equal(t, []uint64{0x1000, 0x2000, 0x3000}, addrs)
}

func TestFunctions_UndefinedSorted(t *testing.T) {
	b := &stacksizestest.Builder{}
	b.AddFunc("zeta", 0, 0)
	b.AddFunc("alpha", 0, 0)

	fns, err := AnalyzeExecutable(b.Build())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, fns.Undefined())
}
