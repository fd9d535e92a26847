package writer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/testutil"
	"github.com/ajitpratap0/datastore/pkg/types"
)

const testTimeout = 2 * time.Second

// recorder collects every applied batch.
type recorder struct {
	mu      sync.Mutex
	batches [][]types.Record
	schemas []*schema.Table
	failAt  int // fail the n-th call, 1-based; 0 never fails
	calls   int
}

func (r *recorder) Put(_ string, sch *schema.Table, records []types.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt > 0 && r.calls == r.failAt {
		return errors.New(errors.ErrorTypeSchemaConflict, "column a is str, not int64")
	}
	r.batches = append(r.batches, records)
	r.schemas = append(r.schemas, sch)
	return nil
}

func (r *recorder) records() []types.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Record
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func keySchema() *schema.Table {
	return schema.New("k", schema.Column{Name: "k", Type: types.Int64})
}

func TestNewRequiresKeyColumn(t *testing.T) {
	_, err := New(&recorder{}, "t", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New(&recorder{}, "t", schema.New(""))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCloseDrainsQueue(t *testing.T) {
	rec := &recorder{}
	w, err := New(rec, "t", keySchema(), WithQueueSize(4), WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, w.State())

	for i := 0; i < 100; i++ {
		require.NoError(t, w.Insert(testutil.Record(t, map[string]any{"k": i, "a": fmt.Sprint(i)})))
	}
	require.NoError(t, w.Delete(types.Int64Value(7)))
	assert.Equal(t, StateAccepting, w.State())

	require.NoError(t, w.Close())
	assert.Equal(t, StateClosed, w.State())

	got := rec.records()
	require.Len(t, got, 101)
	for i := 0; i < 100; i++ {
		assert.Equal(t, types.Int64Value(int64(i)), got[i]["k"], "records are applied in queue order")
	}
	assert.True(t, got[100].IsDeleted())

	last := rec.schemas[len(rec.schemas)-1]
	assert.Equal(t, []string{"k", "a"}, last.Names())
}

func TestInsertCopiesRecord(t *testing.T) {
	rec := &recorder{}
	w, err := New(rec, "t", keySchema())
	require.NoError(t, err)

	r := testutil.Record(t, map[string]any{"k": 1, "a": "x"})
	require.NoError(t, w.Insert(r))
	r["a"] = types.String("changed")
	require.NoError(t, w.Close())

	assert.Equal(t, types.String("x"), rec.records()[0]["a"])
}

func TestInsertValidation(t *testing.T) {
	w, err := New(&recorder{}, "t", keySchema())
	require.NoError(t, err)
	defer w.Close()

	tests := []struct {
		name   string
		record types.Record
		typ    errors.ErrorType
	}{
		{"missing key", testutil.Record(t, map[string]any{"a": "x"}), errors.ErrorTypeValidation},
		{"null key", types.Record{"k": types.Null}, errors.ErrorTypeValidation},
		{"reserved name", testutil.Record(t, map[string]any{"k": 1, "-": true}), errors.ErrorTypeValidation},
		{"key type conflict", testutil.Record(t, map[string]any{"k": "one"}), errors.ErrorTypeSchemaConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Insert(tt.record)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.typ), err.Error())
		})
	}
	assert.Equal(t, StateIdle, w.State(), "rejected records never start the writer")
}

func TestUnsupportedKeyKindsRejected(t *testing.T) {
	// the key type is left open so only the kind check can reject
	rec := &recorder{}
	w, err := New(rec, "t", schema.New("k"))
	require.NoError(t, err)

	keys := map[string]types.Value{
		"float": types.Float64Value(1.5),
		"bool":  types.BoolValue(true),
		"link":  types.LinkValue(types.Link{URI: "file:///a"}),
	}
	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			err := w.Insert(types.Record{"k": key, "a": types.String("x")})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), err.Error())

			err = w.Delete(key)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), err.Error())
		})
	}
	_, typed := w.Schema().KeyType()
	assert.False(t, typed, "rejected keys do not evolve the schema")

	require.NoError(t, w.Insert(testutil.Record(t, map[string]any{"k": 1})))
	require.NoError(t, w.Close())
	assert.Len(t, rec.records(), 1)
}

func TestDeferredErrorSurfaces(t *testing.T) {
	rec := &recorder{failAt: 1}
	w, err := New(rec, "t", keySchema(), WithQueueSize(1))
	require.NoError(t, err)

	require.NoError(t, w.Insert(testutil.Record(t, map[string]any{"k": 1})))
	testutil.AssertEventually(t, func() bool { return w.Err() != nil }, testTimeout, "writer failure")

	err = w.Insert(testutil.Record(t, map[string]any{"k": 2}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriter))
	var werr *errors.Error
	require.True(t, errors.As(err, &werr))
	assert.True(t, errors.IsType(werr.Cause, errors.ErrorTypeSchemaConflict))

	err = w.Close()
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriter))
	assert.Equal(t, err, w.Close(), "close is idempotent")
	assert.Empty(t, rec.records())
}

func TestClosedWriterRejects(t *testing.T) {
	w, err := New(&recorder{}, "t", keySchema())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, StateClosed, w.State())

	err = w.Insert(testutil.Record(t, map[string]any{"k": 1}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriter))
}

func TestConcurrentProducers(t *testing.T) {
	rec := &recorder{}
	w, err := New(rec, "t", keySchema(), WithQueueSize(8))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, w.Insert(types.Record{
					"k":                   types.Int64Value(int64(p*50 + i)),
					fmt.Sprintf("p%d", p): types.BoolValue(true),
				}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	assert.Len(t, rec.records(), 200)
	assert.Equal(t, 5, w.Schema().Len())
}
