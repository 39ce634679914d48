// Package report turns an analyzed function catalog into the sorted,
// filtered entries the CLI renders. Symbol demangling happens here; the
// analysis engine only ever sees raw linker names.
package report

import (
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/stackaudit/stackaudit/pkg/stacksizes"
)

// Entry is one reported function: its space-joined (demangled) names, code
// size, and stack usage. Stack is nil when the executable carried no
// stack-size record for the function.
type Entry struct {
	Name  string  `json:"name"`
	Code  uint64  `json:"code"`
	Stack *uint64 `json:"stack"`
}

// StackOrZero returns the entry's stack usage, treating an unknown stack as
// zero. Sorting and filtering both use this view.
func (e Entry) StackOrZero() uint64 {
	if e.Stack == nil {
		return 0
	}
	return *e.Stack
}

// Options controls report construction.
type Options struct {
	// MinStack excludes functions whose stack usage is below this many
	// bytes. Unknown stack counts as zero, so any positive threshold
	// drops uninstrumented functions.
	MinStack uint64

	// Demangle holds the demangler options applied to every symbol name.
	// Empty means names are passed through raw.
	Demangle []demangle.Option
}

// Demangler option sets selectable from the CLI. "full" keeps parameters
// and templates; "simplified" strips both down to the bare path.
var (
	demangleSimplified = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	demangleTemplates  = []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	demangleFull       = []demangle.Option{demangle.NoClones}
)

// DemangleOptions maps a CLI demangle mode to demangler options.
// Unrecognized modes fall back to "full".
func DemangleOptions(mode string) []demangle.Option {
	switch mode {
	case "none":
		return nil
	case "simplified":
		return demangleSimplified
	case "templates":
		return demangleTemplates
	default:
		return demangleFull
	}
}

// Build flattens the catalog into entries sorted by stack usage, largest
// first, keeping only entries at or above opts.MinStack. The relative order
// of entries with equal stack usage is unspecified.
func Build(fns *stacksizes.Functions, opts Options) []Entry {
	entries := make([]Entry, 0, fns.NumDefined())
	fns.Ascend(func(fn *stacksizes.Function) bool {
		e := Entry{
			Name: joinNames(fn.Names(), opts.Demangle),
			Code: fn.Size(),
		}
		if stack, ok := fn.Stack(); ok {
			e.Stack = &stack
		}
		if e.StackOrZero() >= opts.MinStack {
			entries = append(entries, e)
		}
		return true
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StackOrZero() > entries[j].StackOrZero()
	})
	return entries
}

// joinNames concatenates a function's names with single spaces, demangling
// each and skipping empty ones.
func joinNames(names []string, opts []demangle.Option) string {
	var sb strings.Builder
	for _, name := range names {
		if name == "" {
			continue
		}
		if len(opts) > 0 {
			name = demangle.Filter(name, opts...)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(name)
	}
	return sb.String()
}
