package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/modules"
	"ledgerkernel/core/processor"
	"ledgerkernel/core/types"
	"ledgerkernel/storage/substate"
)

// Outcome is how a transaction ended.
type Outcome uint8

const (
	// OutcomeSuccess commits every write of the transaction.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure commits only the fee payments of the transaction.
	OutcomeFailure
	// OutcomeRejection commits nothing; the transaction never paid its way.
	OutcomeRejection
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeRejection:
		return "rejection"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Committed reports whether the receipt's updates reach the store.
func (o Outcome) Committed() bool { return o != OutcomeRejection }

// ReceiptError is the structured form of the error that ended a transaction.
type ReceiptError struct {
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

// Receipt is everything the engine reports about one transaction.
type Receipt struct {
	TxHash  common.Hash   `json:"txHash" yaml:"txHash"`
	Outcome Outcome       `json:"outcome" yaml:"outcome"`
	Error   *ReceiptError `json:"error,omitempty" yaml:"error,omitempty"`
	// Fee is nil for rejections.
	Fee        *modules.FeeSummary       `json:"fee,omitempty" yaml:"fee,omitempty"`
	Events     []types.Event             `json:"events,omitempty" yaml:"events,omitempty"`
	Logs       []types.LogEntry          `json:"logs,omitempty" yaml:"logs,omitempty"`
	Trace      []modules.TraceEntry      `json:"trace,omitempty" yaml:"trace,omitempty"`
	NewGlobals []types.NodeID            `json:"newGlobals,omitempty" yaml:"newGlobals,omitempty"`
	Outputs    []processor.Output        `json:"-" yaml:"-"`
	Updates    *substate.DatabaseUpdates `json:"-" yaml:"-"`
	// Version and Root are set once the receipt is committed.
	Version uint64      `json:"version,omitempty" yaml:"version,omitempty"`
	Root    common.Hash `json:"root" yaml:"root"`

	err error
}

// Err returns the error that ended the transaction, if any.
func (r *Receipt) Err() error { return r.err }

func (r *Receipt) setError(err error) {
	r.err = err
	if err == nil {
		r.Error = nil
		return
	}
	r.Error = &ReceiptError{Kind: kerrors.KindOf(err).String(), Message: err.Error()}
}
