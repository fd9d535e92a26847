package storage

import (
	"iter"

	"github.com/ajitpratap0/datastore/pkg/mergescan"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// ScanOptions selects what a table scan returns.
type ScanOptions struct {
	// Columns maps source column names to output aliases. Nil selects every
	// schema column under its own name.
	Columns map[string]string
	// Start is the inclusive lower key bound; Null means unbounded
	Start types.Value
	// End is the exclusive upper key bound; Null means unbounded
	End types.Value
	// ExplicitNone backfills every selected column missing from a record
	// with Null. Without it Null fields are dropped.
	ExplicitNone bool
	// BatchSize is the number of rows decoded at a time per file
	BatchSize int
	// MemoryMap maps live files into memory instead of reading them
	MemoryMap bool
}

// Aliases returns the output names selected by columns over s, in schema
// order. A nil mapping selects every column.
func Aliases(s *schema.Table, columns map[string]string) []string {
	var out []string
	for _, name := range s.Names() {
		if columns == nil {
			out = append(out, name)
			continue
		}
		if alias, ok := columns[name]; ok {
			out = append(out, alias)
		}
	}
	return out
}

// Project copies the selected fields of src into a new record under their
// aliases. The key is carried under types.KeyField, and a tombstone keeps
// only the key and the deleted flag.
func Project(src types.Record, key types.Value, columns map[string]string) types.Record {
	out := types.Record{types.KeyField: key}
	if src.IsDeleted() {
		out[types.DeletedField] = types.BoolValue(true)
		return out
	}
	for name, v := range src {
		if types.IsReserved(name) {
			continue
		}
		if columns == nil {
			out[name] = v
			continue
		}
		if alias, ok := columns[name]; ok {
			out[alias] = v
		}
	}
	return out
}

// Finalize applies the null policy to a merged record in place. With
// explicitNone every alias missing from r is set to Null; otherwise Null
// fields are removed. The key field is left untouched.
func Finalize(r types.Record, aliases []string, explicitNone bool) types.Record {
	if explicitNone {
		for _, alias := range aliases {
			if _, ok := r[alias]; !ok {
				r[alias] = types.Null
			}
		}
		return r
	}
	for name, v := range r {
		if name != types.KeyField && v.IsNull() {
			delete(r, name)
		}
	}
	return r
}

// ScanTable returns the merged, key-ordered content of a table directory.
// One lazy read is built per live file, in ascending index order, and the
// reads are merged so that newer files win. Records keep their key under
// types.KeyField. A directory with no live files yields nothing.
func ScanTable(dir string, opts ScanOptions) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		live, err := ListLiveFiles(dir)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(live) == 0 {
			return
		}

		var aliases []string
		if opts.ExplicitNone {
			s, err := ReadFileSchema(live[len(live)-1])
			if err != nil {
				yield(nil, err)
				return
			}
			aliases = Aliases(s, opts.Columns)
		}

		reads := make([]iter.Seq2[types.Record, error], 0, len(live))
		for _, path := range live {
			reads = append(reads, ReadFile(path, ReadOptions{
				Columns:   opts.Columns,
				Start:     opts.Start,
				End:       opts.End,
				BatchSize: opts.BatchSize,
				MemoryMap: opts.MemoryMap,
			}))
		}

		for r, err := range mergescan.Merge(reads...) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(Finalize(r, aliases, opts.ExplicitNone), nil) {
				return
			}
		}
	}
}
