package errors

import stderrors "errors"

var (
	ErrInsufficientBalance              = stderrors.New("resource: insufficient balance")
	ErrResourceMismatch                 = stderrors.New("resource: resource address mismatch")
	ErrNonFungibleOperationNotSupported = stderrors.New("resource: non-fungible operation not supported")
	ErrFungibleOperationNotSupported    = stderrors.New("resource: fungible operation not supported")
	ErrInvalidAmount                    = stderrors.New("resource: invalid amount")
	ErrInvalidDivisibility              = stderrors.New("resource: invalid divisibility")
	ErrNonFungibleNotFound              = stderrors.New("resource: non-fungible id not found")
	ErrNonFungibleAlreadyExists         = stderrors.New("resource: non-fungible id already exists")
	ErrContainerLocked                  = stderrors.New("resource: container has locked units")
	ErrBucketNotEmpty                   = stderrors.New("resource: bucket not empty")
	ErrVaultNotEmpty                    = stderrors.New("resource: vault not empty")
	ErrWorktopNotEmpty                  = stderrors.New("worktop: resources left on worktop")
	ErrWorktopAssertionFailed           = stderrors.New("worktop: assertion failed")
	ErrAuthZoneEmpty                    = stderrors.New("auth zone: no proof to pop")
	ErrUnknownMethod                    = stderrors.New("blueprint: unknown method")
	ErrInvalidArguments                 = stderrors.New("blueprint: invalid arguments")
	ErrAccountVaultNotFound             = stderrors.New("account: no vault for resource")
	ErrBlueprintPanic                   = stderrors.New("blueprint: panic")
)
