// Package mergescan merges key-ordered record sequences into one ordered
// sequence with last-write-wins and tombstone semantics.
//
// Every input must be sorted ascending by the key stored under
// types.KeyField. For each distinct key the records of all inputs at that key
// are folded in input order: a record flagged with types.DeletedField resets
// the accumulated record, any other record overwrites fields of the same
// name. Keys whose accumulated record is empty are not emitted. Callers
// control precedence through input ordering alone: later inputs win.
package mergescan

import (
	"container/heap"
	"iter"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// cursor is the current position in one input.
type cursor struct {
	index  int
	key    types.Value
	record types.Record
	next   func() (types.Record, error, bool)
	stop   func()
}

// advance moves c to the next record of its input. It reports false when the
// input is exhausted.
func (c *cursor) advance() (bool, error) {
	r, err, ok := c.next()
	if !ok {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key, ok := r.Key()
	if !ok || key.IsNull() {
		return false, errors.New(errors.ErrorTypeIntegrity, "merge input record without key").
			WithDetail("input", c.index)
	}
	if c.record != nil && types.Compare(key, c.key) < 0 {
		return false, errors.Newf(errors.ErrorTypeIntegrity, "merge input %d is not sorted: %s after %s", c.index, key, c.key).
			WithDetail("input", c.index)
	}
	c.key, c.record = key, r
	return true, nil
}

// cursorHeap orders cursors by (key, input index).
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if c := types.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// fold applies r to acc and returns the result.
func fold(acc, r types.Record) types.Record {
	if r.IsDeleted() {
		return types.Record{}
	}
	for name, v := range r {
		if name == types.KeyField || name == types.DeletedField {
			continue
		}
		acc[name] = v
	}
	return acc
}

// Merge returns the ordered merge of inputs. An error from any input, or an
// input that is not sorted by key, is yielded once and ends the sequence.
func Merge(inputs ...iter.Seq2[types.Record, error]) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		cursors := make([]*cursor, 0, len(inputs))
		defer func() {
			for _, c := range cursors {
				c.stop()
			}
		}()

		h := make(cursorHeap, 0, len(inputs))
		for i, in := range inputs {
			next, stop := iter.Pull2(in)
			c := &cursor{index: i, next: next, stop: stop}
			cursors = append(cursors, c)
			ok, err := c.advance()
			if err != nil {
				yield(nil, err)
				return
			}
			if ok {
				h = append(h, c)
			}
		}
		heap.Init(&h)

		for h.Len() > 0 {
			key := h[0].key
			acc := types.Record{}
			for h.Len() > 0 && types.Compare(h[0].key, key) == 0 {
				c := h[0]
				acc = fold(acc, c.record)
				ok, err := c.advance()
				if err != nil {
					yield(nil, err)
					return
				}
				if ok {
					heap.Fix(&h, 0)
				} else {
					heap.Pop(&h)
				}
			}
			if len(acc) == 0 {
				continue
			}
			acc[types.KeyField] = key
			if !yield(acc, nil) {
				return
			}
		}
	}
}
