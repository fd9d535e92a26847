// Package schema describes table schemas: an ordered set of typed columns
// with a designated key column, its compact JSON descriptor, and the
// monotonic evolution rules applied as records are observed.
package schema

import (
	"slices"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// Column is a named, typed column.
type Column struct {
	Name string
	Type types.Type
}

// Table is an ordered set of columns plus the key column name.
type Table struct {
	KeyColumn string
	columns   []Column
	index     map[string]int
}

// New creates a table schema with the given key column and columns.
func New(keyColumn string, columns ...Column) *Table {
	t := &Table{KeyColumn: keyColumn, index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.set(c)
	}
	return t
}

func (t *Table) set(c Column) {
	if i, ok := t.index[c.Name]; ok {
		t.columns[i] = c
		return
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
}

// Columns returns the columns in declaration order.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	return slices.Clone(t.columns)
}

// Names returns the column names in declaration order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Len returns the number of columns.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.columns)
}

// KeyType returns the type of the key column.
func (t *Table) KeyType() (types.Type, bool) {
	c, ok := t.Column(t.KeyColumn)
	return c.Type, ok
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	return New(t.KeyColumn, t.columns...)
}

// Equal reports structural equality: same key column and the same columns in
// the same order.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.KeyColumn == o.KeyColumn && slices.Equal(t.columns, o.columns)
}

type descriptor struct {
	Key     string             `json:"key"`
	Columns []columnDescriptor `json:"columns"`
}

type columnDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Serialize renders the compact descriptor embedded in every file:
// {"key": ..., "columns": [{"name": ..., "type": ...}, ...]}.
func (t *Table) Serialize() (string, error) {
	d := descriptor{Key: t.KeyColumn, Columns: make([]columnDescriptor, len(t.columns))}
	for i, c := range t.columns {
		d.Columns[i] = columnDescriptor{Name: c.Name, Type: c.Type.String()}
	}
	b, err := gojson.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to serialize schema")
	}
	return string(b), nil
}

// Parse reconstructs a table schema from its descriptor.
func Parse(s string) (*Table, error) {
	var d descriptor
	if err := gojson.Unmarshal([]byte(s), &d); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "invalid schema descriptor")
	}
	t := New(d.Key)
	for _, c := range d.Columns {
		typ, err := types.ParseType(c.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIntegrity, "invalid schema descriptor").
				WithDetail("column", c.Name)
		}
		t.set(Column{Name: c.Name, Type: typ})
	}
	if d.Key != "" {
		if _, ok := t.index[d.Key]; !ok {
			return nil, errors.Newf(errors.ErrorTypeIntegrity, "key column %q missing from schema descriptor", d.Key)
		}
	}
	return t, nil
}
