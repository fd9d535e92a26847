package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// DefaultRowGroupSize is the number of rows per Parquet row group when none
// is configured. Each row group carries its own key min/max statistics.
const DefaultRowGroupSize = 64 * 1024

// WriteOptions controls the physical layout of written files.
type WriteOptions struct {
	// RowGroupSize is the maximum number of rows per row group
	RowGroupSize int
	// Compression is one of none, snappy, gzip, zstd or brotli
	Compression string
}

func compressionCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", name)
	}
}

// ValidateCompression reports whether name is a supported codec.
func ValidateCompression(name string) error {
	_, err := compressionCodec(name)
	return err
}

// physicalLayout is the set of physical columns of one file.
type physicalLayout struct {
	arrowSchema *arrow.Schema
	columns     []schema.Column // value columns with a physical encoding
	deleted     bool            // whether the "-" column is present
	nullFlags   []string        // columns with a "~col" flag column
}

func layoutFor(s *schema.Table, rows []types.Record, desc string) *physicalLayout {
	l := &physicalLayout{}
	var fields []arrow.Field
	for _, c := range s.Columns() {
		dt, ok := c.Type.Arrow()
		if !ok {
			continue
		}
		l.columns = append(l.columns, c)
		fields = append(fields, arrow.Field{Name: c.Name, Type: dt, Nullable: true})
	}

	explicitNull := make(map[string]bool)
	for _, r := range rows {
		if r.IsDeleted() {
			l.deleted = true
			continue
		}
		for name, v := range r {
			if v.IsNull() && !types.IsReserved(name) {
				explicitNull[name] = true
			}
		}
	}
	if l.deleted {
		fields = append(fields, arrow.Field{Name: types.DeletedField, Type: arrow.FixedWidthTypes.Boolean, Nullable: true})
	}
	for _, name := range s.Names() {
		if explicitNull[name] {
			l.nullFlags = append(l.nullFlags, name)
			fields = append(fields, arrow.Field{Name: types.NullFlag(name), Type: arrow.FixedWidthTypes.Boolean, Nullable: true})
		}
	}

	md := arrow.NewMetadata([]string{SchemaMetadataKey}, []string{desc})
	l.arrowSchema = arrow.NewSchema(fields, &md)
	return l
}

// WriteFile writes rows as a single immutable Parquet file at path. Rows are
// sorted by key before writing; each row must carry the key column, and a row
// with a true "-" field is written as a tombstone. A Null value in a row is
// persisted as an explicit null through the column's "~col" flag. The table
// schema is embedded verbatim in the file metadata. The file is written under
// a temporary name and renamed into place, so readers never observe a
// partially written file.
func WriteFile(path string, s *schema.Table, rows []types.Record, opts WriteOptions) error {
	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		return err
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultRowGroupSize
	}
	if _, ok := s.KeyType(); !ok {
		return errors.Newf(errors.ErrorTypeValidation, "key column %q is not in the schema", s.KeyColumn)
	}

	desc, err := s.Serialize()
	if err != nil {
		return err
	}

	sorted := slices.Clone(rows)
	for _, r := range sorted {
		if k, ok := r[s.KeyColumn]; !ok || k.IsNull() {
			return errors.Newf(errors.ErrorTypeValidation, "row is missing key column %q", s.KeyColumn)
		}
	}
	slices.SortStableFunc(sorted, func(a, b types.Record) int {
		return types.Compare(a[s.KeyColumn], b[s.KeyColumn])
	})

	layout := layoutFor(s, sorted, desc)
	mem := memory.NewGoAllocator()
	rec, err := buildRecord(mem, layout, s.KeyColumn, sorted)
	if err != nil {
		return err
	}
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithAllocator(mem),
		parquet.WithCompression(codec),
		parquet.WithStats(true),
		parquet.WithMaxRowGroupLength(int64(opts.RowGroupSize)),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(mem),
		pqarrow.WithStoreSchema(),
	)

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(layout.arrowSchema, &buf, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet writer").
			WithDetail("path", path)
	}
	if rec.NumRows() > 0 {
		tbl := array.NewTableFromRecords(layout.arrowSchema, []arrow.Record{rec})
		defer tbl.Release()
		if err := fw.WriteTable(tbl, int64(opts.RowGroupSize)); err != nil {
			_ = fw.Close()
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write rows").
				WithDetail("path", path)
		}
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close Parquet writer").
			WithDetail("path", path)
	}

	return writeAtomic(path, buf.Bytes())
}

func buildRecord(mem memory.Allocator, l *physicalLayout, keyColumn string, rows []types.Record) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, l.arrowSchema)
	defer b.Release()

	for _, r := range rows {
		deleted := r.IsDeleted()
		col := 0
		for _, c := range l.columns {
			v, ok := r[c.Name]
			if deleted && c.Name != keyColumn {
				ok = false
			}
			if !ok || v.IsNull() {
				b.Field(col).AppendNull()
				col++
				continue
			}
			physical, err := c.Type.Serialize(v)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeSchemaConflict, "failed to serialize value").
					WithDetail("column", c.Name)
			}
			if err := appendPhysical(b.Field(col), physical); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to append value").
					WithDetail("column", c.Name)
			}
			col++
		}
		if l.deleted {
			if deleted {
				b.Field(col).(*array.BooleanBuilder).Append(true)
			} else {
				b.Field(col).AppendNull()
			}
			col++
		}
		for _, name := range l.nullFlags {
			if v, ok := r[name]; ok && v.IsNull() && !deleted {
				b.Field(col).(*array.BooleanBuilder).Append(true)
			} else {
				b.Field(col).AppendNull()
			}
			col++
		}
	}

	return b.NewRecord(), nil
}

func appendPhysical(builder array.Builder, value any) error {
	switch bld := builder.(type) {
	case *array.Int8Builder:
		bld.Append(int8(value.(int64)))
	case *array.Int16Builder:
		bld.Append(int16(value.(int64)))
	case *array.Int32Builder:
		bld.Append(int32(value.(int64)))
	case *array.Int64Builder:
		bld.Append(value.(int64))
	case *array.Float32Builder:
		bld.Append(value.(float32))
	case *array.Float64Builder:
		bld.Append(value.(float64))
	case *array.BooleanBuilder:
		bld.Append(value.(bool))
	case *array.StringBuilder:
		bld.Append(value.(string))
	case *array.BinaryBuilder:
		bld.Append(value.([]byte))
	default:
		return errors.Newf(errors.ErrorTypeInternal, "unsupported builder type: %T", builder)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create table directory").
			WithDetail("dir", dir)
	}

	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary file").
			WithDetail("path", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write temporary file").
			WithDetail("path", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync temporary file").
			WithDetail("path", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close temporary file").
			WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to rename table file").
			WithDetail("path", path)
	}
	return nil
}
