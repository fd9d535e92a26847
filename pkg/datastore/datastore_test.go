package datastore

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastore/pkg/config"
	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/storage"
	"github.com/ajitpratap0/datastore/pkg/testutil"
	"github.com/ajitpratap0/datastore/pkg/types"
)

func openStore(t *testing.T, root string) *Store {
	t.Helper()
	cfg := config.NewConfig(root)
	cfg.Storage.RowGroupSize = 2
	s, err := Open(*cfg, WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	return s
}

func intKey(name string) *schema.Table {
	return schema.New(name, schema.Column{Name: name, Type: types.Int64})
}

func records(t *testing.T, rows ...map[string]any) []types.Record {
	out := make([]types.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, testutil.Record(t, r))
	}
	return out
}

func scan(t *testing.T, s *Store, tables []TableDesc, opts ScanOptions) []map[string]any {
	t.Helper()
	seq, err := s.ScanTables(tables, opts)
	require.NoError(t, err)
	return testutil.MustCollect(t, seq)
}

func TestPutScan(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("t", intKey("k"), records(t,
		map[string]any{"k": 0, "a": "0", "b": "0"},
		map[string]any{"k": 1, "a": "1"},
	)))

	seq, err := s.Scan("t", ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"k": int64(0), "a": "0", "b": "0"},
		{"k": int64(1), "a": "1"},
	}, testutil.MustCollect(t, seq))
}

func TestPutValidation(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	tests := []struct {
		name    string
		table   string
		sch     *schema.Table
		records []types.Record
	}{
		{"bad table name", "../escape", intKey("k"), nil},
		{"no schema", "t", nil, nil},
		{"no key column", "t", schema.New(""), nil},
		{"bad schema column", "t", schema.New("k", schema.Column{Name: "~k", Type: types.Int64}), nil},
		{"bad record column", "t", intKey("k"), records(t, map[string]any{"k": 1, "a b": "x"})},
		{"missing key", "t", intKey("k"), records(t, map[string]any{"a": "x"})},
		{"null key", "t", intKey("k"), records(t, map[string]any{"k": nil})},
		{"float key", "t", intKey("k"), records(t, map[string]any{"k": 1.5})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(tt.table, tt.sch, tt.records)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), err.Error())
		})
	}
}

func TestPutRejectsWholeBatch(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("t", intKey("k"), records(t, map[string]any{"k": 1, "a": "x"})))
	err := s.Put("t", intKey("k"), records(t,
		map[string]any{"k": 2, "a": "y"},
		map[string]any{"k": 3, "a": 3},
	))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict), err.Error())

	seq, err := s.Scan("t", ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"k": int64(1), "a": "x"}}, testutil.MustCollect(t, seq))
}

func TestPutKeyColumnMismatch(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("t", intKey("k"), records(t, map[string]any{"k": 1})))
	err := s.Put("t", intKey("id"), records(t, map[string]any{"id": 1}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPutDeletes(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("t", intKey("k"), records(t,
		map[string]any{"k": 1, "a": "x"},
		map[string]any{"k": 2, "a": "y"},
	)))
	require.NoError(t, s.Put("t", intKey("k"), records(t, map[string]any{"k": 1, "-": true})))

	seq, err := s.Scan("t", ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"k": int64(2), "a": "y"}}, testutil.MustCollect(t, seq))
}

func TestCloseDumpsAndReopenReadsFromDisk(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	require.NoError(t, s.Put("runs/eval", intKey("k"), records(t,
		map[string]any{"k": 3, "score": 0.5},
		map[string]any{"k": 1, "score": 0.25},
		map[string]any{"k": 2, "score": 0.75},
	)))
	require.NoError(t, s.Put("runs/eval", intKey("k"), records(t, map[string]any{"k": 2, "-": true})))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	err := s.Put("runs/eval", intKey("k"), records(t, map[string]any{"k": 4}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "closed store rejects puts")

	live, err := storage.ListLiveFiles(filepath.Join(root, "runs", "eval"))
	require.NoError(t, err)
	require.Len(t, live, 1)

	reopened := openStore(t, root)
	defer reopened.Close()

	tables, err := reopened.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/eval"}, tables)

	sch, err := reopened.Schema("runs/eval")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "score"}, sch.Names())

	want := []map[string]any{
		{"k": int64(1), "score": 0.25},
		{"k": int64(3), "score": 0.5},
	}
	assert.Equal(t, want, scan(t, reopened, []TableDesc{{Name: "runs/eval"}}, ScanOptions{}), "from disk")

	require.NoError(t, reopened.Put("runs/eval", intKey("k"), records(t, map[string]any{"k": 5, "score": 1.0})))
	want = append(want, map[string]any{"k": int64(5), "score": 1.0})
	assert.Equal(t, want, scan(t, reopened, []TableDesc{{Name: "runs/eval"}}, ScanOptions{}), "from memory")
}

func TestCloseKeepsConcurrentPuts(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)

	const producers = 4
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		started  = make(chan struct{}, producers)
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				err := s.Put("t", intKey("k"), records(t, map[string]any{"k": p*1_000_000 + i}))
				if err != nil {
					assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), err.Error())
					return
				}
				accepted.Add(1)
				if i == 0 {
					started <- struct{}{}
				}
			}
		}()
	}
	for p := 0; p < producers; p++ {
		<-started
	}
	require.NoError(t, s.Close())
	wg.Wait()

	reopened := openStore(t, root)
	defer reopened.Close()
	// every put that returned nil was dumped
	got := scan(t, reopened, []TableDesc{{Name: "t"}}, ScanOptions{Columns: map[string]string{"k": ""}})
	assert.Len(t, got, int(accepted.Load()))
}

func TestDumpWritesOnlyChangedTables(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	defer s.Close()

	require.NoError(t, s.Put("a", intKey("k"), records(t, map[string]any{"k": 1})))
	require.NoError(t, s.Put("b", intKey("k"), records(t, map[string]any{"k": 1})))
	require.NoError(t, s.Dump())
	require.NoError(t, s.Put("b", intKey("k"), records(t, map[string]any{"k": 2})))
	require.NoError(t, s.Dump())

	count := func(table string) int {
		entries, err := os.ReadDir(filepath.Join(root, table))
		require.NoError(t, err)
		return len(entries)
	}
	assert.Equal(t, 1, count("a"))
	assert.Equal(t, 2, count("b"))
}

func TestScanRangeAndExplicitNone(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("t", intKey("k"), records(t,
		map[string]any{"k": 0, "a": "0", "b": "0"},
		map[string]any{"k": 1, "a": "1"},
		map[string]any{"k": 2, "a": "2"},
	)))

	got := scan(t, s, []TableDesc{{Name: "t", ExplicitNone: true}}, ScanOptions{
		Start: types.Int64Value(1),
		End:   types.Int64Value(2),
	})
	assert.Equal(t, []map[string]any{{"k": int64(1), "a": "1", "b": nil}}, got)
}

func TestExplicitNoneProjectionSameAfterReopen(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	require.NoError(t, s.Put("t", intKey("k"), records(t,
		map[string]any{"k": 1, "a": "x"},
		map[string]any{"k": 2, "b": "y"},
	)))

	tables := []TableDesc{{Name: "t", ExplicitNone: true}}
	opts := ScanOptions{Columns: map[string]string{"b": ""}}
	want := []map[string]any{{"b": "y"}}
	assert.Equal(t, want, scan(t, s, tables, opts), "memory")
	require.NoError(t, s.Close())

	s = openStore(t, root)
	defer s.Close()
	assert.Equal(t, want, scan(t, s, tables, opts), "disk")
}

func TestDeleteOnlyRemovesOwnTableRows(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	require.NoError(t, s.Put("a", intKey("k"), records(t, map[string]any{"k": 1, "x": "1"})))
	require.NoError(t, s.Put("b", intKey("k"), records(t, map[string]any{"k": 1, "y": "2"})))
	require.NoError(t, s.Put("b", intKey("k"), records(t, map[string]any{"k": 1, "-": true})))

	tables := []TableDesc{{Name: "a"}, {Name: "b"}}
	want := []map[string]any{{"k": int64(1), "x": "1"}}
	assert.Equal(t, want, scan(t, s, tables, ScanOptions{}), "memory")
	require.NoError(t, s.Close())

	s = openStore(t, root)
	defer s.Close()
	assert.Equal(t, want, scan(t, s, tables, ScanOptions{}), "disk")
}

func TestScanTablesComposesWideRows(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("metrics", intKey("step"), records(t,
		map[string]any{"step": 1, "loss": 0.5},
		map[string]any{"step": 2, "loss": 0.25},
	)))
	require.NoError(t, s.Put("samples", intKey("step"), records(t,
		map[string]any{"step": 2, "text": "b"},
		map[string]any{"step": 3, "text": "c"},
	)))
	require.NoError(t, s.Dump())

	got := scan(t, s, []TableDesc{{Name: "metrics"}, {Name: "samples"}}, ScanOptions{})
	assert.Equal(t, []map[string]any{
		{"step": int64(1), "loss": 0.5},
		{"step": int64(2), "loss": 0.25, "text": "b"},
		{"step": int64(3), "text": "c"},
	}, got)

	got = scan(t, s, []TableDesc{{Name: "metrics", Alias: "m"}, {Name: "samples", Alias: "s"}}, ScanOptions{
		Columns: map[string]string{"m.*": "", "s.text": "sample"},
	})
	assert.Equal(t, []map[string]any{
		{"step": int64(1), "loss": 0.5},
		{"step": int64(2), "loss": 0.25, "sample": "b"},
		{"sample": "c"},
	}, got)

	got = scan(t, s, []TableDesc{{Name: "metrics"}, {Name: "samples"}}, ScanOptions{
		Columns: map[string]string{"step": "", "text": ""},
	})
	assert.Equal(t, []map[string]any{
		{"step": int64(1)},
		{"step": int64(2), "text": "b"},
		{"step": int64(3), "text": "c"},
	}, got, "bare columns apply to every table that has them")
}

func TestScanTablesErrors(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put("a", intKey("k"), records(t, map[string]any{"k": 1, "x": "1"})))
	require.NoError(t, s.Put("b", intKey("k"), records(t, map[string]any{"k": 1, "y": "1"})))
	require.NoError(t, s.Put("c", schema.New("k", schema.Column{Name: "k", Type: types.Str}),
		records(t, map[string]any{"k": "one"})))

	tests := []struct {
		name   string
		tables []TableDesc
		opts   ScanOptions
		typ    errors.ErrorType
	}{
		{"no tables", nil, ScanOptions{}, errors.ErrorTypeValidation},
		{"missing table", []TableDesc{{Name: "missing"}}, ScanOptions{}, errors.ErrorTypeIntegrity},
		{"key type conflict", []TableDesc{{Name: "a"}, {Name: "c"}}, ScanOptions{}, errors.ErrorTypeIntegrity},
		{
			"duplicate output",
			[]TableDesc{{Name: "a"}, {Name: "b"}},
			ScanOptions{Columns: map[string]string{"a.x": "v", "b.y": "v"}},
			errors.ErrorTypeValidation,
		},
		{
			"unknown qualified column",
			[]TableDesc{{Name: "a"}},
			ScanOptions{Columns: map[string]string{"a.z": ""}},
			errors.ErrorTypeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ScanTables(tt.tables, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.typ), err.Error())
		})
	}
}

func TestWriter(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	w, err := s.Writer("events", intKey("id"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Insert(testutil.Record(t, map[string]any{"id": i, "n": i * i})))
	}
	require.NoError(t, w.Delete(types.Int64Value(0)))
	require.NoError(t, w.Close())

	seq, err := s.Scan("events", ScanOptions{Columns: map[string]string{"n": "squared"}})
	require.NoError(t, err)
	got := testutil.MustCollect(t, seq)
	require.Len(t, got, 9)
	assert.Equal(t, map[string]any{"squared": int64(1)}, got[0])
	assert.Equal(t, map[string]any{"squared": int64(81)}, got[8])

	_, err = s.Writer("../x", intKey("id"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
