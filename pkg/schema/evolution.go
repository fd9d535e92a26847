package schema

import (
	"slices"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// relation classifies an observed type against the column's current type.
type relation int

const (
	relAbsent       relation = iota // column not in schema yet
	relInferredNone                 // observed value is null
	relExistingNone                 // column only ever saw nulls
	relSameFamily                   // compatible, possibly different width
	relOtherFamily                  // incompatible families
)

// action is the schema transition applied for a relation.
type action int

const (
	actionAdd action = iota
	actionKeep
	actionReplace
	actionWiden
	actionConflict
)

// transitions is the widening state table. Columns only ever get added or
// widened, never removed or narrowed.
var transitions = map[relation]action{
	relAbsent:       actionAdd,
	relInferredNone: actionKeep,
	relExistingNone: actionReplace,
	relSameFamily:   actionWiden,
	relOtherFamily:  actionConflict,
}

func classify(existing types.Type, present bool, inferred types.Type) relation {
	switch {
	case !present:
		return relAbsent
	case inferred.IsNone():
		return relInferredNone
	case existing.IsNone():
		return relExistingNone
	case existing.Compatible(inferred):
		return relSameFamily
	default:
		return relOtherFamily
	}
}

// evolve applies the transition for one column to t in place and reports
// whether t changed.
func (t *Table) evolve(name string, inferred types.Type) (bool, error) {
	existing, present := t.Column(name)
	switch transitions[classify(existing.Type, present, inferred)] {
	case actionAdd, actionReplace:
		t.set(Column{Name: name, Type: inferred})
		return true, nil
	case actionWiden:
		if inferred.Bits > existing.Type.Bits {
			t.set(Column{Name: name, Type: inferred})
			return true, nil
		}
		return false, nil
	case actionConflict:
		return false, errors.Newf(errors.ErrorTypeSchemaConflict,
			"column %q: type conflict between existing %s and new %s", name, existing.Type, inferred).
			WithDetail("column", name).
			WithDetail("existing", existing.Type.String()).
			WithDetail("new", inferred.String())
	default:
		return false, nil
	}
}

// Update returns the schema that results from observing record against s. It
// is the single authority for whether an insert is legal: s is never
// modified, and an error is returned if any field conflicts with an existing
// column. Reserved fields are ignored.
func Update(s *Table, record types.Record) (*Table, error) {
	out := s.Clone()
	if out == nil {
		out = New("")
	}
	for _, name := range fieldOrder(out.KeyColumn, record) {
		if _, err := out.evolve(name, record[name].Type()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fieldOrder lists the non-reserved fields of record with the key column
// first and the rest sorted, so new columns are appended deterministically.
func fieldOrder(key string, record types.Record) []string {
	names := make([]string, 0, len(record))
	for name := range record {
		if types.IsReserved(name) || name == key {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	if _, ok := record[key]; ok && key != "" {
		names = append([]string{key}, names...)
	}
	return names
}

// Merge folds every column of o into s using the same transition table and
// returns the result. The key columns must agree unless one side has none.
func Merge(s, o *Table) (*Table, error) {
	out := s.Clone()
	if out == nil {
		out = New("")
	}
	if o == nil {
		return out, nil
	}
	switch {
	case out.KeyColumn == "":
		out.KeyColumn = o.KeyColumn
	case o.KeyColumn != "" && o.KeyColumn != out.KeyColumn:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"key column mismatch: %q vs %q", out.KeyColumn, o.KeyColumn)
	}
	for _, c := range o.columns {
		if _, err := out.evolve(c.Name, c.Type); err != nil {
			return nil, err
		}
	}
	return out, nil
}
