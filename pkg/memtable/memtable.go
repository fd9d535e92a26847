// Package memtable implements the in-memory write buffer of a table: an
// ordered set of live records and pending deletes that is loaded from disk on
// first use and dumped back as a fresh base file.
package memtable

import (
	"iter"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/metrics"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/storage"
	"github.com/ajitpratap0/datastore/pkg/types"
)

type entry struct {
	key    types.Value
	record types.Record
}

func entryLess(a, b entry) bool {
	return types.Less(a.key, b.key)
}

// Table is the mutable in-memory state of one table. Stored records are never
// modified in place, so snapshots taken with btree Copy stay consistent.
type Table struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	schema  *schema.Table
	records *btree.BTreeG[entry]
	deletes *btree.BTreeG[types.Value]
	size    int
	version uint64 // bumped on every mutation
	dumped  uint64 // version of the last successful dump

	dumpMu sync.Mutex // serializes dumps of this table
}

// New creates an empty table with the given initial schema.
func New(name string, s *schema.Table, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s == nil {
		s = schema.New("")
	}
	return &Table{
		name:    name,
		logger:  logger.With(zap.String("component", "memtable"), zap.String("table", name)),
		schema:  s.Clone(),
		records: btree.NewBTreeG[entry](entryLess),
		deletes: btree.NewBTreeG[types.Value](types.Less),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Schema returns a copy of the current schema.
func (t *Table) Schema() *schema.Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schema.Clone()
}

// Size returns the approximate size of the buffered records and deletes in
// bytes.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Dirty reports whether the table changed since it was loaded or last dumped.
func (t *Table) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version != t.dumped
}

// Load replaces the table content with the merged content of the table
// directory. The schema is read from the last live file, and every record is
// checked to carry its own key in the key column. A directory without live
// files leaves the table empty.
func (t *Table) Load(dir string) error {
	live, err := storage.ListLiveFiles(dir)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return nil
	}

	s, err := storage.ReadTableSchema(dir)
	if err != nil {
		return err
	}

	records := btree.NewBTreeG[entry](entryLess)
	size := 0
	for r, err := range storage.ScanTable(dir, storage.ScanOptions{}) {
		if err != nil {
			return err
		}
		key, _ := r.Key()
		own, ok := r[s.KeyColumn]
		if !ok || types.Compare(own, key) != 0 {
			return errors.Newf(errors.ErrorTypeIntegrity, "loaded record key %s does not match key column value %s", key, own).
				WithDetail("table", t.name).
				WithDetail("dir", dir)
		}
		delete(r, types.KeyField)
		records.Set(entry{key: key, record: r})
		size += r.Size()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	merged, err := schema.Merge(s, t.schema)
	if err != nil {
		return err
	}
	t.schema = merged
	t.records = records
	t.deletes = btree.NewBTreeG[types.Value](types.Less)
	t.size = size
	t.dumped = t.version
	metrics.TableBytes.WithLabelValues(t.name).Set(float64(size))

	t.logger.Debug("loaded table",
		zap.String("dir", dir),
		zap.Int("files", len(live)),
		zap.Int("records", records.Len()))
	return nil
}

// MergeSchema folds s into the table schema. The key columns must agree.
func (t *Table) MergeSchema(s *schema.Table) error {
	return t.Apply(s, nil)
}

// Insert upserts record. Fields of an existing record with the same key are
// overwritten, other fields are kept. A pending delete of the key is
// cancelled.
func (t *Table) Insert(record types.Record) error {
	return t.Apply(nil, []types.Record{record})
}

// Delete removes the records with the given keys and records a pending
// delete for each of them.
func (t *Table) Delete(keys ...types.Value) error {
	t.mu.Lock()
	keyColumn := t.schema.KeyColumn
	t.mu.Unlock()

	batch := make([]types.Record, 0, len(keys))
	for _, key := range keys {
		batch = append(batch, types.Record{keyColumn: key, types.DeletedField: types.BoolValue(true)})
	}
	return t.Apply(nil, batch)
}

// Apply folds the caller schema s, which may be nil, into the table schema
// and applies a batch of records. Records flagged with "-" are deletes, all
// others are inserts. Everything is validated first: a key column that
// disagrees with the table's, a record without key or a schema conflict
// rejects the whole call and nothing is applied.
func (t *Table) Apply(s *schema.Table, batch []types.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.schema
	if s != nil {
		if next.KeyColumn != "" && s.KeyColumn != "" && next.KeyColumn != s.KeyColumn {
			return errors.Newf(errors.ErrorTypeValidation, "key column mismatch: table %q uses %q, got %q",
				t.name, next.KeyColumn, s.KeyColumn)
		}
		merged, err := schema.Merge(next, s)
		if err != nil {
			return err
		}
		next = merged
	}

	keyColumn := next.KeyColumn
	if keyColumn == "" && len(batch) > 0 {
		return errors.New(errors.ErrorTypeValidation, "table has no key column").
			WithDetail("table", t.name)
	}
	for _, r := range batch {
		key, ok := r[keyColumn]
		if !ok || key.IsNull() {
			return errors.Newf(errors.ErrorTypeValidation, "record is missing key column %q", keyColumn).
				WithDetail("table", t.name)
		}
		if r.IsDeleted() {
			// only the key of a tombstone is typed
			r = types.Record{keyColumn: key}
		}
		evolved, err := schema.Update(next, r)
		if err != nil {
			return err
		}
		next = evolved
	}
	if !next.Equal(t.schema) {
		t.schema = next
		t.version++
	}

	for _, r := range batch {
		key := r[keyColumn]
		if r.IsDeleted() {
			t.deleteLocked(key)
			continue
		}
		t.insertLocked(key, r)
	}
	metrics.TableBytes.WithLabelValues(t.name).Set(float64(t.size))
	return nil
}

func (t *Table) insertLocked(key types.Value, r types.Record) {
	stored := make(types.Record, len(r))
	old, exists := t.records.Get(entry{key: key})
	if exists {
		for name, v := range old.record {
			stored[name] = v
		}
	}
	for name, v := range r {
		if !types.IsReserved(name) {
			stored[name] = v
		}
	}
	if exists {
		t.size -= old.record.Size()
	}
	t.size += stored.Size()
	t.records.Set(entry{key: key, record: stored})

	if _, ok := t.deletes.Delete(key); ok {
		t.size -= key.Size()
	}
	t.version++
}

func (t *Table) deleteLocked(key types.Value) {
	if old, ok := t.records.Delete(entry{key: key}); ok {
		t.size -= old.record.Size()
	}
	if _, replaced := t.deletes.Set(key); !replaced {
		t.size += key.Size()
	}
	t.version++
}

// Scan returns the records with keys in [Start, End) in ascending key order,
// projected like a file scan. Pending deletes are yielded as tombstones
// carrying "-". The table is snapshotted when iteration starts and the lock
// is not held while the consumer runs.
func (t *Table) Scan(opts storage.ScanOptions) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		t.mu.Lock()
		records := t.records.Copy()
		deletes := t.deletes.Copy()
		s := t.schema.Clone()
		t.mu.Unlock()

		var rows []entry
		records.Ascend(entry{key: opts.Start}, func(e entry) bool {
			if !opts.End.IsNull() && types.Compare(e.key, opts.End) >= 0 {
				return false
			}
			rows = append(rows, e)
			return true
		})
		deletes.Ascend(opts.Start, func(key types.Value) bool {
			if !opts.End.IsNull() && types.Compare(key, opts.End) >= 0 {
				return false
			}
			rows = append(rows, entry{key: key})
			return true
		})
		slices.SortStableFunc(rows, func(a, b entry) int {
			return types.Compare(a.key, b.key)
		})

		var aliases []string
		if opts.ExplicitNone {
			aliases = storage.Aliases(s, opts.Columns)
		}
		for _, e := range rows {
			var out types.Record
			if e.record == nil {
				out = types.Record{types.KeyField: e.key, types.DeletedField: types.BoolValue(true)}
			} else {
				out = storage.Project(e.record, e.key, opts.Columns)
				// nothing selected: a file scan merges this to an empty record
				if len(out) == 1 {
					continue
				}
				out = storage.Finalize(out, aliases, opts.ExplicitNone)
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// Dump writes the table as a new base file in dir, holding every live record
// and one tombstone per pending delete. A table that has not changed since it
// was loaded or last dumped is not written. It returns the path of the
// written file, or "" when nothing was written.
func (t *Table) Dump(dir string, opts storage.WriteOptions) (string, error) {
	t.dumpMu.Lock()
	defer t.dumpMu.Unlock()

	t.mu.Lock()
	if t.version == t.dumped {
		t.mu.Unlock()
		metrics.Dumps.WithLabelValues(t.name, "skipped").Inc()
		return "", nil
	}
	version := t.version
	records := t.records.Copy()
	deletes := t.deletes.Copy()
	s := t.schema.Clone()
	t.mu.Unlock()

	// nothing was ever inserted
	if _, ok := s.KeyType(); !ok {
		metrics.Dumps.WithLabelValues(t.name, "skipped").Inc()
		return "", nil
	}

	rows := make([]types.Record, 0, records.Len()+deletes.Len())
	records.Scan(func(e entry) bool {
		rows = append(rows, e.record)
		return true
	})
	deletes.Scan(func(key types.Value) bool {
		rows = append(rows, types.Record{s.KeyColumn: key, types.DeletedField: types.BoolValue(true)})
		return true
	})

	timer := metrics.NewTimer()
	index, err := storage.NextIndex(dir)
	if err != nil {
		metrics.Dumps.WithLabelValues(t.name, metrics.Status(err)).Inc()
		return "", err
	}
	path := filepath.Join(dir, storage.FileName(storage.KindBase, index))
	err = storage.WriteFile(path, s, rows, opts)
	metrics.Dumps.WithLabelValues(t.name, metrics.Status(err)).Inc()
	if err != nil {
		return "", err
	}
	elapsed := timer.Stop()
	metrics.DumpLatency.WithLabelValues(t.name).Observe(elapsed.Seconds())

	t.mu.Lock()
	if t.dumped < version {
		t.dumped = version
	}
	t.mu.Unlock()

	t.logger.Info("dumped table",
		zap.String("path", path),
		zap.Int("records", records.Len()),
		zap.Int("deletes", deletes.Len()),
		zap.Duration("duration", elapsed))
	return path, nil
}
