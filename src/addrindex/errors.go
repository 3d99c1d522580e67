package addrindex

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// ErrorExtraction is returned by Index and Deindex when the AddressResolver
// fails for one of the transaction's inputs or outputs. The resolver's error
// is kept unchanged in Err.
type ErrorExtraction struct {
	TxID  types.Hash32
	Input bool
	Index uint32
	Err   error
}

func (e *ErrorExtraction) Error() string {
	kind := "output"
	if e.Input {
		kind = "input"
	}
	return fmt.Sprintf("could not resolve address of %s %s:%d: %s", kind, e.TxID, e.Index, e.Err)
}

func (e *ErrorExtraction) Unwrap() error {
	return e.Err
}

// IsErrorExtraction reports whether err is or wraps an *ErrorExtraction.
func IsErrorExtraction(err error) bool {
	var e *ErrorExtraction
	return errors.As(err, &e)
}
