package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to database").
		WithDetail("host", "localhost").
		WithDetail("port", 5432)

	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to database
}

// ExampleWrap shows how wrapped errors keep their cause.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeData, "failed to read export object").
		WithDetail("object", "part-0001.json.gz")

	fmt.Println(errors.IsType(err, errors.ErrorTypeData))
	fmt.Println(errors.Is(err, io.EOF))
	fmt.Println(err)

	// Output:
	// true
	// true
	// data: failed to read export object: EOF
}

// ExampleIsRetryable shows which categories are worth another attempt.
func ExampleIsRetryable() {
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeRateLimit, "429 from API")))
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeAuthentication, "bad secret")))
	fmt.Println(errors.IsRetryable(io.EOF))

	// Output:
	// true
	// false
	// false
}

// ExampleIsType shows that nested structured errors are inspected.
func ExampleIsType() {
	inner := errors.New(errors.ErrorTypeConflict, "relation already exists")
	outer := errors.Wrap(inner, errors.ErrorTypeQuery, "create table")

	fmt.Println(errors.IsType(outer, errors.ErrorTypeConflict))
	fmt.Println(errors.Is(errors.Wrap(errors.ErrTableAlreadyReplicated, errors.ErrorTypeConflict, "init"), errors.ErrTableAlreadyReplicated))

	// Output:
	// true
	// true
}
