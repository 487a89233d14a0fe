package errors

import stderrors "errors"

var (
	ErrCostUnitLimitExceeded  = stderrors.New("costing: cost unit limit exceeded")
	ErrSystemLoanNotRepaid    = stderrors.New("costing: system loan not repaid")
	ErrFeeReserveInsufficient = stderrors.New("costing: fee reserve insufficient")
	ErrLockFeeNotPersisted    = stderrors.New("costing: fee vault must be persisted")
	ErrLockFeeNotXRD          = stderrors.New("costing: fees must be locked in the fee resource")
	ErrUnauthorized           = stderrors.New("auth: unauthorized")
	ErrRoyaltyOverflow        = stderrors.New("royalty: amount overflow")
)
