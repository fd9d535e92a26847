// Package writer provides an asynchronous table writer. Inserts and deletes
// are validated and queued by the caller; a background goroutine drains the
// queue in batches and applies them through a Putter. Close waits until every
// queued record has been applied.
package writer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/metrics"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// DefaultQueueSize is the channel capacity used when none is configured.
const DefaultQueueSize = 1024

// Putter applies a batch of records to a table.
type Putter interface {
	Put(table string, sch *schema.Table, records []types.Record) error
}

// State is the lifecycle state of a Writer.
type State int32

const (
	// StateIdle means no record was queued yet
	StateIdle State = iota
	// StateAccepting means the background goroutine is running
	StateAccepting
	// StateStopping means Close is waiting for the queue to drain
	StateStopping
	// StateClosed means the writer no longer accepts records
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Writer.
type Option func(*Writer)

// WithQueueSize sets the channel capacity. Producers block once it is full.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithLogger sets the writer logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// Writer queues records for one table and applies them in the background.
// Insert and Delete may be called from several goroutines.
type Writer struct {
	putter    Putter
	table     string
	queueSize int
	logger    *zap.Logger

	mu    sync.RWMutex // read-held while sending, write-held to start and close
	state atomic.Int32
	items chan types.Record
	done  chan struct{}

	schemaMu sync.Mutex
	schema   *schema.Table // running schema of everything queued

	errMu sync.Mutex
	err   error
}

// New returns an idle writer for table. The schema must name the key column.
func New(p Putter, table string, sch *schema.Table, opts ...Option) (*Writer, error) {
	if sch == nil || sch.KeyColumn == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "writer schema must name a key column").
			WithDetail("table", table)
	}
	w := &Writer{
		putter:    p,
		table:     table,
		queueSize: DefaultQueueSize,
		logger:    zap.NewNop(),
		schema:    sch.Clone(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "writer"), zap.String("table", table))
	w.items = make(chan types.Record, w.queueSize)
	w.done = make(chan struct{})
	return w, nil
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	return State(w.state.Load())
}

// Schema returns a copy of the running schema.
func (w *Writer) Schema() *schema.Table {
	w.schemaMu.Lock()
	defer w.schemaMu.Unlock()
	return w.schema.Clone()
}

// Err returns the error that stopped the background goroutine, if any.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Writer) fail(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Insert validates record and queues it. It blocks only while the queue is
// full. An earlier failure of the background goroutine is returned instead.
func (w *Writer) Insert(record types.Record) error {
	for name := range record {
		if !types.ValidColumnName(name) {
			return errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", name).
				WithDetail("table", w.table)
		}
	}
	return w.enqueue(record.Clone())
}

// Delete queues the deletion of key.
func (w *Writer) Delete(key types.Value) error {
	w.schemaMu.Lock()
	keyColumn := w.schema.KeyColumn
	w.schemaMu.Unlock()
	return w.enqueue(types.Record{keyColumn: key, types.DeletedField: types.BoolValue(true)})
}

func (w *Writer) enqueue(r types.Record) error {
	if err := w.Err(); err != nil {
		return err
	}

	w.schemaMu.Lock()
	key, ok := r[w.schema.KeyColumn]
	if !ok || key.IsNull() {
		w.schemaMu.Unlock()
		return errors.Newf(errors.ErrorTypeValidation, "record is missing key column %q", w.schema.KeyColumn).
			WithDetail("table", w.table)
	}
	switch key.Kind() {
	case types.KindInt, types.KindString:
	default:
		w.schemaMu.Unlock()
		return errors.Newf(errors.ErrorTypeValidation, "key %s of column %q must be an int or str", key, w.schema.KeyColumn).
			WithDetail("table", w.table)
	}
	evolve := r
	if r.IsDeleted() {
		evolve = types.Record{w.schema.KeyColumn: key}
	}
	next, err := schema.Update(w.schema, evolve)
	if err != nil {
		w.schemaMu.Unlock()
		return err
	}
	w.schema = next
	w.schemaMu.Unlock()

	if err := w.start(); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.State() != StateAccepting {
		return errors.New(errors.ErrorTypeWriter, "writer is closed").
			WithDetail("table", w.table)
	}
	w.items <- r
	metrics.WriterQueueDepth.WithLabelValues(w.table).Set(float64(len(w.items)))
	return nil
}

// start moves an idle writer to accepting and launches its goroutine.
func (w *Writer) start() error {
	if w.State() != StateIdle {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.CompareAndSwap(int32(StateIdle), int32(StateAccepting)) {
		w.logger.Debug("starting writer")
		go w.run()
	}
	return nil
}

func (w *Writer) run() {
	defer close(w.done)
	for r := range w.items {
		batch := []types.Record{r}
	drain:
		for {
			select {
			case next, ok := <-w.items:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		metrics.WriterQueueDepth.WithLabelValues(w.table).Set(float64(len(w.items)))
		w.apply(batch)
	}
}

func (w *Writer) apply(batch []types.Record) {
	if w.Err() != nil {
		w.logger.Debug("discarding batch after failure", zap.Int("records", len(batch)))
		return
	}
	err := w.putter.Put(w.table, w.Schema(), batch)
	metrics.WriterBatches.WithLabelValues(w.table, metrics.Status(err)).Inc()
	if err != nil {
		w.logger.Error("failed to apply batch", zap.Int("records", len(batch)), zap.Error(err))
		w.fail(errors.Wrap(err, errors.ErrorTypeWriter, "table writer stopped").
			WithDetail("table", w.table))
	}
}

// Close stops accepting records, waits until every queued record has been
// applied and returns the error that stopped the background goroutine, if
// any. Calling Close again returns the same error.
func (w *Writer) Close() error {
	w.mu.Lock()
	switch w.State() {
	case StateIdle:
		w.state.Store(int32(StateClosed))
		close(w.items)
		close(w.done)
		w.mu.Unlock()
		return nil
	case StateAccepting:
		w.state.Store(int32(StateStopping))
		close(w.items)
		w.mu.Unlock()
	default:
		w.mu.Unlock()
	}

	<-w.done
	w.state.Store(int32(StateClosed))
	w.logger.Debug("closed writer")
	return w.Err()
}
