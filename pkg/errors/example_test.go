// Package errors provides examples of structured error handling in Relay.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/relay/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to database")

	err = err.WithDetail("host", "localhost").
		WithDetail("port", 5432)

	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to database
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Extraction(io.EOF, "failed to read source file").
		WithDetail("file", "data.csv")

	if errors.IsType(err, errors.ErrorTypeExtraction) {
		fmt.Println("extraction failed")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// extraction failed
	// caused by EOF
}

// ExampleRequiredFieldMissing shows that a missing required field belongs to
// the transformation family.
func ExampleRequiredFieldMissing() {
	err := errors.RequiredFieldMissing("email")

	fmt.Println(errors.IsType(err, errors.ErrorTypeRequiredField))
	fmt.Println(errors.IsType(err, errors.ErrorTypeTransformation))
	fmt.Println(errors.IsType(err, errors.ErrorTypeLoad))

	// Output:
	// true
	// true
	// false
}

// ExampleIsRetryable demonstrates retry classification.
func ExampleIsRetryable() {
	timeout := errors.ConnectionTimeout(io.ErrUnexpectedEOF, "acme")
	load := errors.Load(nil, "destination rejected batch")

	fmt.Println(errors.IsRetryable(timeout))
	fmt.Println(errors.IsRetryable(load))

	// Output:
	// true
	// false
}
