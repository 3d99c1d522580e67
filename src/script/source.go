package script

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// PrevOutSource looks up outputs that inputs spend.
type PrevOutSource interface {
	// FetchPrevOut returns the output at op, or an *ErrorPrevOutNotFound if
	// the source does not know it.
	FetchPrevOut(op wire.OutPoint) (*wire.TxOut, error)
}

// ErrorPrevOutNotFound is returned by a PrevOutSource that does not know an
// output.
type ErrorPrevOutNotFound struct {
	OutPoint wire.OutPoint
}

func (e *ErrorPrevOutNotFound) Error() string {
	return fmt.Sprintf("previous output %s not found", e.OutPoint)
}

// IsErrorPrevOutNotFound reports whether err is or wraps an
// *ErrorPrevOutNotFound.
func IsErrorPrevOutNotFound(err error) bool {
	var e *ErrorPrevOutNotFound
	return errors.As(err, &e)
}

// MultiSource asks each source in turn and returns the first hit.
type MultiSource []PrevOutSource

func (m MultiSource) FetchPrevOut(op wire.OutPoint) (*wire.TxOut, error) {
	for _, source := range m {
		txOut, err := source.FetchPrevOut(op)
		if err == nil {
			return txOut, nil
		}
		if !IsErrorPrevOutNotFound(err) {
			return nil, err
		}
	}
	return nil, &ErrorPrevOutNotFound{OutPoint: op}
}
