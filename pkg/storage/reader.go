package storage

import (
	"context"
	"io"
	"iter"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// DefaultBatchSize is the number of rows decoded per Arrow batch.
const DefaultBatchSize = 4096

// ReadOptions selects what a file read returns.
type ReadOptions struct {
	// Columns maps source column names to output aliases. Nil reads every
	// column of the file under its own name.
	Columns map[string]string
	// Start is the inclusive lower key bound; Null means unbounded
	Start types.Value
	// End is the exclusive upper key bound; Null means unbounded
	End types.Value
	// BatchSize is the number of rows decoded at a time
	BatchSize int
	// MemoryMap maps the file into memory instead of reading it
	MemoryMap bool
}

// InRange reports whether start <= key < end, treating Null bounds as open.
func InRange(key, start, end types.Value) bool {
	if !start.IsNull() && types.Compare(key, start) < 0 {
		return false
	}
	if !end.IsNull() && types.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// readPlan is the set of physical columns decoded for one file read.
type readPlan struct {
	path      string
	schema    *schema.Table
	keyType   types.Type
	keyLeaf   int
	leaves    []int
	hasDelete bool
	project   []projected
}

type projected struct {
	source   string
	alias    string
	typ      types.Type
	physical bool // value column present in the file
	nullFlag bool // "~source" column present in the file
}

func newReadPlan(path string, rdr *file.Reader, s *schema.Table, opts ReadOptions) (*readPlan, error) {
	keyType, ok := s.KeyType()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeIntegrity, "key column %q missing from file schema", s.KeyColumn).
			WithDetail("path", path)
	}
	pq := rdr.MetaData().Schema
	p := &readPlan{path: path, schema: s, keyType: keyType, keyLeaf: pq.ColumnIndexByName(s.KeyColumn)}
	if p.keyLeaf < 0 {
		return nil, errors.Newf(errors.ErrorTypeIntegrity, "key column %q missing from file", s.KeyColumn).
			WithDetail("path", path)
	}

	leaves := map[int]bool{p.keyLeaf: true}
	if idx := pq.ColumnIndexByName(types.DeletedField); idx >= 0 {
		p.hasDelete = true
		leaves[idx] = true
	}

	columns := opts.Columns
	if columns == nil {
		columns = make(map[string]string, s.Len())
		for _, name := range s.Names() {
			columns[name] = name
		}
	}
	for source, alias := range columns {
		c, ok := s.Column(source)
		if !ok {
			continue
		}
		pc := projected{source: source, alias: alias, typ: c.Type}
		if idx := pq.ColumnIndexByName(source); idx >= 0 {
			pc.physical = true
			leaves[idx] = true
		}
		if idx := pq.ColumnIndexByName(types.NullFlag(source)); idx >= 0 {
			pc.nullFlag = true
			leaves[idx] = true
		}
		p.project = append(p.project, pc)
	}

	for idx := range leaves {
		p.leaves = append(p.leaves, idx)
	}
	return p, nil
}

// intersects reports whether a row group may hold keys in [start, end),
// based on the key column statistics. Groups without usable statistics are
// always read.
func (p *readPlan) intersects(rg *metadata.RowGroupMetaData, start, end types.Value) bool {
	if start.IsNull() && end.IsNull() {
		return true
	}
	cc, err := rg.ColumnChunk(p.keyLeaf)
	if err != nil {
		return true
	}
	if set, err := cc.StatsSet(); err != nil || !set {
		return true
	}
	stats, err := cc.Statistics()
	if err != nil || stats == nil || !stats.HasMinMax() {
		return true
	}

	var lo, hi types.Value
	switch s := stats.(type) {
	case *metadata.Int32Statistics:
		lo, hi = types.Int(int64(s.Min()), p.keyType.Bits), types.Int(int64(s.Max()), p.keyType.Bits)
	case *metadata.Int64Statistics:
		lo, hi = types.Int(s.Min(), p.keyType.Bits), types.Int(s.Max(), p.keyType.Bits)
	case *metadata.ByteArrayStatistics:
		lo, hi = types.String(string(s.Min())), types.String(string(s.Max()))
	default:
		return true
	}

	if !start.IsNull() && types.Compare(hi, start) < 0 {
		return false
	}
	if !end.IsNull() && types.Compare(lo, end) >= 0 {
		return false
	}
	return true
}

// batchColumns resolves the arrays of one decoded batch by column name.
type batchColumns struct {
	key     arrow.Array
	deleted arrow.Array
	values  []arrow.Array // parallel to readPlan.project, nil if absent
	flags   []arrow.Array // parallel to readPlan.project, nil if absent
}

func (p *readPlan) columnsOf(rec arrow.Record) batchColumns {
	byName := func(name string) arrow.Array {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil
		}
		return rec.Column(idx[0])
	}
	bc := batchColumns{
		key:    byName(p.schema.KeyColumn),
		values: make([]arrow.Array, len(p.project)),
		flags:  make([]arrow.Array, len(p.project)),
	}
	if p.hasDelete {
		bc.deleted = byName(types.DeletedField)
	}
	for i, pc := range p.project {
		if pc.physical {
			bc.values[i] = byName(pc.source)
		}
		if pc.nullFlag {
			bc.flags[i] = byName(types.NullFlag(pc.source))
		}
	}
	return bc
}

// row decodes row i of a batch. A tombstone row yields only the key and "-".
// An explicit null yields the alias with a Null value so that it overrides
// older values when merged; absent values are omitted.
func (p *readPlan) row(bc batchColumns, i int) (types.Record, types.Value, error) {
	if bc.key == nil || bc.key.IsNull(i) {
		return nil, types.Null, errors.New(errors.ErrorTypeIntegrity, "row without key").
			WithDetail("path", p.path)
	}
	key, err := p.keyType.Deserialize(physicalAt(bc.key, i))
	if err != nil {
		return nil, types.Null, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to decode key").
			WithDetail("path", p.path)
	}

	r := types.Record{types.KeyField: key}
	if bc.deleted != nil && !bc.deleted.IsNull(i) && physicalAt(bc.deleted, i) == true {
		r[types.DeletedField] = types.BoolValue(true)
		return r, key, nil
	}

	for j, pc := range p.project {
		if flag := bc.flags[j]; flag != nil && !flag.IsNull(i) && physicalAt(flag, i) == true {
			r[pc.alias] = types.Null
			continue
		}
		col := bc.values[j]
		if col == nil || col.IsNull(i) {
			continue
		}
		v, err := pc.typ.Deserialize(physicalAt(col, i))
		if err != nil {
			return nil, types.Null, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to decode value").
				WithDetail("path", p.path).
				WithDetail("column", pc.source)
		}
		r[pc.alias] = v
	}
	return r, key, nil
}

// physicalAt extracts the Go value at row i of a non-null slot.
func physicalAt(arr arrow.Array, i int) any {
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Float32:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return strings.Clone(a.Value(i))
	case *array.LargeString:
		return strings.Clone(a.Value(i))
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...)
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(i)...)
	default:
		return nil
	}
}

// ReadFile returns a lazy sequence over the rows of one table file. Row
// groups whose key statistics do not intersect [Start, End) are skipped
// without decoding, and only the key column, the "-" column and the
// requested columns with their "~col" flags are decoded. Every record carries
// its key under "*" in addition to any alias. Each call starts a new read;
// the file is closed when iteration ends or the consumer stops early.
func ReadFile(path string, opts ReadOptions) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		rdr, err := file.OpenParquetFile(path, opts.MemoryMap)
		if err != nil {
			yield(nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to open table file").
				WithDetail("path", path))
			return
		}
		defer rdr.Close()

		s, err := schemaOf(rdr, path)
		if err != nil {
			yield(nil, err)
			return
		}
		plan, err := newReadPlan(path, rdr, s, opts)
		if err != nil {
			yield(nil, err)
			return
		}

		batchSize := opts.BatchSize
		if batchSize <= 0 {
			batchSize = DefaultBatchSize
		}
		fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.DefaultAllocator)
		if err != nil {
			yield(nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to create Arrow reader").
				WithDetail("path", path))
			return
		}

		for rg := 0; rg < rdr.NumRowGroups(); rg++ {
			if !plan.intersects(rdr.MetaData().RowGroup(rg), opts.Start, opts.End) {
				continue
			}
			if !readRowGroup(fr, plan, rg, opts, yield) {
				return
			}
		}
	}
}

// readRowGroup yields the rows of one row group and reports whether the
// caller should continue with the next one.
func readRowGroup(fr *pqarrow.FileReader, plan *readPlan, rg int, opts ReadOptions, yield func(types.Record, error) bool) bool {
	rr, err := fr.GetRecordReader(context.Background(), plan.leaves, []int{rg})
	if err != nil {
		yield(nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to read row group").
			WithDetail("path", plan.path).
			WithDetail("row_group", rg))
		return false
	}
	defer rr.Release()

	for rr.Next() {
		rec := rr.Record()
		bc := plan.columnsOf(rec)
		for i := 0; i < int(rec.NumRows()); i++ {
			r, key, err := plan.row(bc, i)
			if err != nil {
				yield(nil, err)
				return false
			}
			if !InRange(key, opts.Start, opts.End) {
				continue
			}
			if !yield(r, nil) {
				return false
			}
		}
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		yield(nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to decode row group").
			WithDetail("path", plan.path).
			WithDetail("row_group", rg))
		return false
	}
	return true
}
