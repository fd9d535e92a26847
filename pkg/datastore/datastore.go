// Package datastore is the entry point of the embedded columnar store. A
// Store owns one storage root. Tables are created lazily on first put and
// loaded from their directory; scans compose any number of tables into one
// key-ordered sequence.
//
// Typical use:
//
//	store, err := datastore.Open(*config.NewConfig("/var/lib/datastore"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	s := schema.New("id", schema.Column{Name: "id", Type: types.Int64})
//	err = store.Put("runs/eval", s, []types.Record{
//	    {"id": types.Int64Value(1), "accuracy": types.Float64Value(0.92)},
//	})
package datastore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/datastore/pkg/config"
	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/logger"
	"github.com/ajitpratap0/datastore/pkg/memtable"
	"github.com/ajitpratap0/datastore/pkg/metrics"
	"github.com/ajitpratap0/datastore/pkg/observability"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/storage"
	"github.com/ajitpratap0/datastore/pkg/types"
	"github.com/ajitpratap0/datastore/pkg/writer"
)

// Store is a handle on one storage root. It is safe for concurrent use.
// Unrelated tables never contend with each other: the table map is a
// sync.Map and creation is deduplicated per table name.
type Store struct {
	cfg    config.Config
	root   string
	logger *zap.Logger

	tables sync.Map // name -> *memtable.Table
	loads  singleflight.Group

	// mu is read-held by Put and write-held while Close marks the store
	// closed, so every accepted put is applied before the final dump.
	mu     sync.RWMutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger of the store and its tables.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open returns a store rooted at cfg.Storage.Root, creating the directory if
// needed. The caller owns the store and must Close it to persist buffered
// changes.
func Open(cfg config.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Storage.Root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid storage root").
			WithDetail("root", cfg.Storage.Root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create storage root").
			WithDetail("root", root)
	}

	s := &Store{cfg: cfg, root: root}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.With(zap.String("component", "datastore"), zap.String("root", root))
	s.logger.Debug("opened store")
	return s, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) dir(table string) string {
	return filepath.Join(s.root, filepath.FromSlash(table))
}

// loaded returns the in-memory table if it was already created.
func (s *Store) loaded(name string) (*memtable.Table, bool) {
	v, ok := s.tables.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*memtable.Table), true
}

// table returns the in-memory table for name, loading it from disk on first
// use. Concurrent first uses of the same name share one load.
func (s *Store) table(name string) (*memtable.Table, error) {
	if t, ok := s.loaded(name); ok {
		return t, nil
	}
	v, err, _ := s.loads.Do(name, func() (any, error) {
		if t, ok := s.loaded(name); ok {
			return t, nil
		}
		_, span := observability.StartSpan(context.Background(), "datastore.Load", attribute.String("table", name))
		t := memtable.New(name, nil, s.logger)
		err := t.Load(s.dir(name))
		observability.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		s.tables.Store(name, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*memtable.Table), nil
}

func validateTableName(name string) error {
	if !types.ValidTableName(name) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid table name %q", name).
			WithDetail("table", name)
	}
	return nil
}

// validateRecord checks field names and the key of one record.
func validateRecord(keyColumn string, r types.Record) error {
	for name := range r {
		if name == types.DeletedField {
			continue
		}
		if !types.ValidColumnName(name) {
			return errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", name).
				WithDetail("column", name)
		}
	}
	key, ok := r[keyColumn]
	if !ok || key.IsNull() {
		return errors.Newf(errors.ErrorTypeValidation, "record is missing key column %q", keyColumn)
	}
	switch key.Kind() {
	case types.KindInt, types.KindString:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "key %s of column %q must be an int or str", key, keyColumn)
	}
	return nil
}

// Put applies records to a table. The schema names the key column and may
// declare column types ahead of the data; its key column must match the
// table's. Records carrying "-" delete their key, all others are upserted.
// The whole batch is validated before anything is applied.
func (s *Store) Put(table string, sch *schema.Table, records []types.Record) (err error) {
	_, span := observability.StartSpan(context.Background(), "datastore.Put",
		attribute.String("table", table),
		attribute.Int("records", len(records)))
	defer func() { observability.EndSpan(span, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.ErrorTypeValidation, "store is closed")
	}
	if err := validateTableName(table); err != nil {
		return err
	}
	if sch == nil || sch.KeyColumn == "" {
		return errors.New(errors.ErrorTypeValidation, "schema must name a key column").
			WithDetail("table", table)
	}
	for _, name := range sch.Names() {
		if !types.ValidColumnName(name) {
			return errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", name).
				WithDetail("table", table)
		}
	}
	deletes := 0
	for _, r := range records {
		if err := validateRecord(sch.KeyColumn, r); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "invalid record").
				WithDetail("table", table)
		}
		if r.IsDeleted() {
			deletes++
		}
	}

	t, err := s.table(table)
	if err != nil {
		return err
	}
	if err := t.Apply(sch, records); err != nil {
		return err
	}

	metrics.RecordsPut.WithLabelValues(table).Add(float64(len(records) - deletes))
	metrics.RecordsDeleted.WithLabelValues(table).Add(float64(deletes))
	s.logger.Debug("put records",
		zap.String("table", table),
		zap.Int("records", len(records)),
		zap.Int("deletes", deletes))
	return nil
}

// Schema returns the schema of a table, from memory when the table is loaded
// and from its last live file otherwise.
func (s *Store) Schema(table string) (*schema.Table, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if t, ok := s.loaded(table); ok {
		return t.Schema(), nil
	}
	return storage.ReadTableSchema(s.dir(table))
}

// Tables lists every table known to the store, on disk or in memory, sorted
// by name.
func (s *Store) Tables() ([]string, error) {
	seen := make(map[string]bool)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, _, ok := storage.ParseFileName(d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); types.ValidTableName(name) {
			seen[name] = true
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list tables").
			WithDetail("root", s.root)
	}
	s.tables.Range(func(k, _ any) bool {
		seen[k.(string)] = true
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Dump writes every changed in-memory table as a new base file. Tables are
// dumped in parallel, bounded by the configured dump concurrency.
func (s *Store) Dump() (err error) {
	ctx, span := observability.StartSpan(context.Background(), "datastore.Dump")
	defer func() { observability.EndSpan(span, err) }()

	var g errgroup.Group
	g.SetLimit(s.cfg.Performance.GetDumpConcurrency())
	opts := s.cfg.Storage.WriteOptions()

	s.tables.Range(func(k, v any) bool {
		name, t := k.(string), v.(*memtable.Table)
		g.Go(func() error {
			_, span := observability.StartSpan(ctx, "datastore.DumpTable", attribute.String("table", name))
			path, err := t.Dump(s.dir(name), opts)
			if path != "" {
				span.SetAttributes(attribute.String("path", path))
			}
			observability.EndSpan(span, err)
			if err != nil {
				s.logger.Error("failed to dump table", zap.String("table", name), zap.Error(err))
				return err
			}
			return nil
		})
		return true
	})
	return g.Wait()
}

// Close dumps every in-memory table. It waits for puts in progress, and
// further puts are rejected.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Dump()
	s.logger.Debug("closed store", zap.Error(err))
	return err
}

// Writer returns an asynchronous writer that applies records to table in
// the background. The caller must Close it.
func (s *Store) Writer(table string, sch *schema.Table) (*writer.Writer, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	return writer.New(s, table, sch,
		writer.WithQueueSize(s.cfg.Performance.WriterQueueSize),
		writer.WithLogger(s.logger),
	)
}
