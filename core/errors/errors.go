package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"ledgerkernel/core/types"
)

// Kind classifies a runtime failure. Every kind aborts the transaction.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindKernel
	KindApplication
	KindSystem
	KindInterpreter
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindKernel:
		return "kernel"
	case KindApplication:
		return "application"
	case KindSystem:
		return "system"
	case KindInterpreter:
		return "interpreter"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Error carries the structural context needed to replay a failure.
type Error struct {
	Kind   Kind
	Err    error
	Detail string
	Node   *types.NodeID
	Actor  string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Node != nil {
		fmt.Fprintf(&b, " node=%s", e.Node.Short())
	}
	if e.Actor != "" {
		fmt.Fprintf(&b, " actor=%s", e.Actor)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithNode attaches the node the failure concerns.
func (e *Error) WithNode(node types.NodeID) *Error {
	e.Node = &node
	return e
}

// WithActor attaches the invocation identity.
func (e *Error) WithActor(actor string) *Error {
	e.Actor = actor
	return e
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Err: err, Detail: detail}
}

// Kernel wraps an ownership, visibility or lock failure.
func Kernel(err error, format string, args ...any) *Error {
	return newError(KindKernel, err, format, args...)
}

// Application wraps a resource, auth or blueprint business failure.
func Application(err error, format string, args ...any) *Error {
	return newError(KindApplication, err, format, args...)
}

// System wraps a schema, type or store access failure.
func System(err error, format string, args ...any) *Error {
	return newError(KindSystem, err, format, args...)
}

// Interpreter wraps a failure at the code executor boundary.
func Interpreter(err error, format string, args ...any) *Error {
	return newError(KindInterpreter, err, format, args...)
}

// Module wraps a costing, auth or royalty module failure.
func Module(err error, format string, args ...any) *Error {
	return newError(KindModule, err, format, args...)
}

// KindOf reports the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is and As mirror the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
