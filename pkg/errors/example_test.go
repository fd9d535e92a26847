// Package errors provides examples of structured error handling in the data store.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeValidation, "invalid table name").
		WithDetail("table", "bad name!")

	fmt.Println(err.Error())

	// Output:
	// validation: invalid table name
}

// ExampleWrap shows how to wrap a storage failure with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeIntegrity, "failed to read table file").
		WithDetail("path", "metrics/base-3.parquet")

	if errors.IsType(err, errors.ErrorTypeIntegrity) {
		fmt.Println("integrity error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("caused by unexpected EOF")
	}

	// Output:
	// integrity error
	// caused by unexpected EOF
}

// Example_errorChain shows how error messages compose through wrapping.
func Example_errorChain() {
	err := errors.Newf(errors.ErrorTypeSchemaConflict, "column %q: cannot change type from %s to %s", "a", "int64", "str")
	wrapped := errors.Wrap(err, errors.ErrorTypeWriter, "table writer stopped")

	fmt.Println(wrapped)

	// Output:
	// writer: table writer stopped: schema_conflict: column "a": cannot change type from int64 to str
}

// ExampleIsType demonstrates that only the outermost category is reported.
func ExampleIsType() {
	conflict := errors.New(errors.ErrorTypeSchemaConflict, "type conflict")
	wrapped := errors.Wrap(conflict, errors.ErrorTypeWriter, "put failed")

	fmt.Printf("conflict is schema_conflict: %v\n", errors.IsType(conflict, errors.ErrorTypeSchemaConflict))
	fmt.Printf("wrapped is writer: %v\n", errors.IsType(wrapped, errors.ErrorTypeWriter))
	fmt.Printf("wrapped is schema_conflict: %v\n", errors.IsType(wrapped, errors.ErrorTypeSchemaConflict))

	// Output:
	// conflict is schema_conflict: true
	// wrapped is writer: true
	// wrapped is schema_conflict: false
}
