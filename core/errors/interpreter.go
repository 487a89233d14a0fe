package errors

import stderrors "errors"

var (
	ErrExportNotFound  = stderrors.New("interpreter: export not found")
	ErrMalformedInput  = stderrors.New("interpreter: malformed input")
	ErrMalformedOutput = stderrors.New("interpreter: malformed output")
	ErrCodeNotFound    = stderrors.New("interpreter: code not found")
	ErrInstantiation   = stderrors.New("interpreter: instantiation failed")
	ErrPanic           = stderrors.New("interpreter: execution panicked")
)
