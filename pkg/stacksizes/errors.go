package stacksizes

import (
	"errors"
	"fmt"
)

// Sentinel errors for matching with errors.Is. The concrete error values
// returned by the analyzer carry section and offset context and unwrap to
// one of these.
var (
	// ErrMalformedInput indicates a section whose contents do not decode:
	// a symbol table with an unrecognized entry width, or a .stack_sizes
	// record running past the end of its section.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnresolvedName indicates a function symbol whose name could not
	// be resolved from the string table. A function that cannot be named
	// cannot be reported, so this aborts the analysis.
	ErrUnresolvedName = errors.New("unresolved symbol name")
)

// MalformedInputError reports undecodable section contents.
type MalformedInputError struct {
	// Section is the name of the section that failed to decode.
	Section string
	// Offset is the byte offset within the section where decoding stopped.
	Offset int
	// Reason describes what was expected at that offset.
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("section %s: malformed input at offset %#x: %s", e.Section, e.Offset, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// UnresolvedNameError reports a function symbol entry whose name index does
// not resolve against the linked string table.
type UnresolvedNameError struct {
	// Section is the symbol table section holding the entry.
	Section string
	// Index is the entry's position within the symbol table.
	Index int
	// NameOffset is the entry's failing string table offset.
	NameOffset uint32
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("section %s: entry %d: name offset %#x not in string table", e.Section, e.Index, e.NameOffset)
}

func (e *UnresolvedNameError) Unwrap() error { return ErrUnresolvedName }
