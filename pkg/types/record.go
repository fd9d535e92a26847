package types

import (
	"maps"
	"regexp"
	"strings"
)

const (
	// KeyField carries the record key during scans.
	KeyField = "*"
	// DeletedField marks a tombstone row.
	DeletedField = "-"
	// NullPrefix prefixes the explicit-null flag column of a column.
	NullPrefix = "~"
)

var (
	columnNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	tableNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_/-]+$`)
)

// ValidColumnName reports whether name is a legal user column name.
func ValidColumnName(name string) bool {
	return columnNamePattern.MatchString(name) && !IsReserved(name)
}

// ValidTableName reports whether name is a legal table name. Table names may
// use "/" as a hierarchical separator.
func ValidTableName(name string) bool {
	if !tableNamePattern.MatchString(name) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// IsReserved reports whether name is a reserved column name.
func IsReserved(name string) bool {
	return name == KeyField || name == DeletedField || strings.HasPrefix(name, NullPrefix)
}

// NullFlag returns the explicit-null flag column name of col.
func NullFlag(col string) string {
	return NullPrefix + col
}

// Record maps column names to values.
type Record map[string]Value

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// IsDeleted reports whether r is a tombstone.
func (r Record) IsDeleted() bool {
	return r[DeletedField].IsTrue()
}

// Key returns the value stored under the scan key field.
func (r Record) Key() (Value, bool) {
	v, ok := r[KeyField]
	return v, ok
}

// Size returns an approximate footprint of r in bytes.
func (r Record) Size() int {
	n := 0
	for k, v := range r {
		n += len(k) + v.Size()
	}
	return n
}

// RecordOf builds a Record from native Go values.
func RecordOf(fields map[string]any) (Record, error) {
	r := make(Record, len(fields))
	for k, x := range fields {
		v, err := FromAny(x)
		if err != nil {
			return nil, err
		}
		r[k] = v
	}
	return r, nil
}
