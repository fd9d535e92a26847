package datastore

import (
	"cmp"
	"context"
	"iter"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/mergescan"
	"github.com/ajitpratap0/datastore/pkg/metrics"
	"github.com/ajitpratap0/datastore/pkg/observability"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/storage"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// TableDesc names one table of a scan.
type TableDesc struct {
	// Name is the table name
	Name string
	// Alias qualifies columns of this table in a projection; it defaults to
	// Name
	Alias string
	// ExplicitNone backfills every selected column of this table with Null
	ExplicitNone bool
}

func (d TableDesc) alias() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// ScanOptions selects what a scan returns.
type ScanOptions struct {
	// Columns maps projection entries to output names. An entry is a bare
	// column name, applied to every table that has the column, a qualified
	// "alias.column", or "alias.*" for every column of one table under its
	// own name. An empty output name keeps the column name. Nil selects every
	// column of every table.
	Columns map[string]string
	// Start is the inclusive lower key bound; Null means unbounded
	Start types.Value
	// End is the exclusive upper key bound; Null means unbounded
	End types.Value
}

// resolved is the effective projection of one table.
type resolved struct {
	desc    TableDesc
	schema  *schema.Table
	columns map[string]string // nil selects all
}

// projection resolves the projection entries against one table and records
// every output name in outputs, which maps output names to source columns.
func projection(desc TableDesc, s *schema.Table, entries map[string]string, outputs map[string]string) (map[string]string, error) {
	if entries == nil {
		return nil, nil
	}

	columns := make(map[string]string)
	add := func(source, out string) error {
		if out == "" {
			out = source
		}
		if prev, ok := outputs[out]; ok && prev != source {
			return errors.Newf(errors.ErrorTypeValidation, "output column %q is requested for both %q and %q", out, prev, source).
				WithDetail("column", out)
		}
		outputs[out] = source
		columns[source] = out
		return nil
	}

	// wildcards first so explicit entries override their aliases
	order := slices.Sorted(maps.Keys(entries))
	slices.SortStableFunc(order, func(a, b string) int {
		return cmp.Compare(boolRank(!strings.HasSuffix(a, ".*")), boolRank(!strings.HasSuffix(b, ".*")))
	})
	for _, entry := range order {
		out := entries[entry]
		qualifier, column, qualified := cutLast(entry, ".")
		if qualified && qualifier != desc.alias() {
			continue
		}
		switch {
		case qualified && column == "*":
			for _, name := range s.Names() {
				if err := add(name, ""); err != nil {
					return nil, err
				}
			}
		case qualified:
			if _, ok := s.Column(column); !ok {
				return nil, errors.Newf(errors.ErrorTypeValidation, "table %q has no column %q", desc.Name, column).
					WithDetail("table", desc.Name)
			}
			if err := add(column, out); err != nil {
				return nil, err
			}
		default:
			if _, ok := s.Column(entry); !ok {
				continue
			}
			if err := add(entry, out); err != nil {
				return nil, err
			}
		}
	}
	return columns, nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+len(sep):], true
}

// ScanTables returns one key-ordered sequence spanning all listed tables.
// Records of the same key are composed into one wide row, with later tables
// overriding earlier ones for columns of the same output name. All tables
// must use keys of the same type family. The key field "*" is not part of
// the output. Projection errors and missing tables are reported before any
// record is read.
func (s *Store) ScanTables(tables []TableDesc, opts ScanOptions) (iter.Seq2[types.Record, error], error) {
	if len(tables) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "scan requires at least one table")
	}

	var (
		plans   []resolved
		keyType types.Type
		outputs = make(map[string]string)
	)
	for i, desc := range tables {
		if err := validateTableName(desc.Name); err != nil {
			return nil, err
		}
		sch, err := s.Schema(desc.Name)
		if err != nil {
			return nil, err
		}
		kt, ok := sch.KeyType()
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeIntegrity, "table %q has no typed key column", desc.Name).
				WithDetail("table", desc.Name)
		}
		if i == 0 {
			keyType = kt
		} else if !keyType.Compatible(kt) {
			return nil, errors.Newf(errors.ErrorTypeIntegrity, "key type %s of table %q conflicts with %s", kt, desc.Name, keyType).
				WithDetail("table", desc.Name)
		}

		columns, err := projection(desc, sch, opts.Columns, outputs)
		if err != nil {
			return nil, err
		}
		plans = append(plans, resolved{desc: desc, schema: sch, columns: columns})
	}

	reads := make([]iter.Seq2[types.Record, error], 0, len(plans))
	for _, p := range plans {
		reads = append(reads, s.scanTable(p, opts))
	}

	names := make([]string, 0, len(plans))
	for _, p := range plans {
		names = append(names, p.desc.Name)
	}
	return func(yield func(types.Record, error) bool) {
		_, span := observability.StartSpan(context.Background(), "datastore.Scan",
			attribute.StringSlice("tables", names))
		rows := 0
		var err error
		defer func() {
			span.SetAttributes(attribute.Int("rows", rows))
			observability.EndSpan(span, err)
		}()

		for r, rerr := range mergescan.Merge(reads...) {
			if rerr != nil {
				err = rerr
				yield(nil, err)
				return
			}
			delete(r, types.KeyField)
			rows++
			if !yield(r, nil) {
				return
			}
		}
	}, nil
}

// Scan returns the content of a single table.
func (s *Store) Scan(table string, opts ScanOptions) (iter.Seq2[types.Record, error], error) {
	return s.ScanTables([]TableDesc{{Name: table}}, opts)
}

// scanTable reads one table from memory when it is loaded and from disk
// otherwise.
func (s *Store) scanTable(p resolved, opts ScanOptions) iter.Seq2[types.Record, error] {
	so := storage.ScanOptions{
		Columns:      p.columns,
		Start:        opts.Start,
		End:          opts.End,
		ExplicitNone: p.desc.ExplicitNone,
		BatchSize:    s.cfg.Storage.BatchSize,
		MemoryMap:    s.cfg.Storage.MemoryMap,
	}
	if t, ok := s.loaded(p.desc.Name); ok {
		s.logger.Debug("scanning table from memory", zap.String("table", p.desc.Name))
		return counted("memory", withoutTombstones(t.Scan(so)))
	}
	s.logger.Debug("scanning table from disk", zap.String("table", p.desc.Name))
	return counted("disk", storage.ScanTable(s.dir(p.desc.Name), so))
}

// withoutTombstones drops the pending deletes of a loaded table. A table's
// deletes only remove its own rows, which the memory scan already reflects,
// so they must not reset columns contributed by other tables of a scan. This
// matches a disk scan, whose per-table merge consumes tombstones.
func withoutTombstones(seq iter.Seq2[types.Record, error]) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		for r, err := range seq {
			if err == nil && r.IsDeleted() {
				continue
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

// counted reports the rows read from one source when iteration ends.
func counted(source string, seq iter.Seq2[types.Record, error]) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		n := 0
		defer func() {
			metrics.RowsScanned.WithLabelValues(source).Add(float64(n))
		}()
		for r, err := range seq {
			if err == nil {
				n++
			}
			if !yield(r, err) {
				return
			}
		}
	}
}
