package errors

import stderrors "errors"

var (
	ErrInvalidManifest       = stderrors.New("processor: invalid manifest")
	ErrBucketNotFound        = stderrors.New("processor: bucket not found")
	ErrProofNotFound         = stderrors.New("processor: proof not found")
	ErrIntentNotFound        = stderrors.New("processor: intent not found")
	ErrIntentAlreadyFinished = stderrors.New("processor: intent already finished")
	ErrIntentNotYielded      = stderrors.New("processor: child intent must end with a yield to parent")
	ErrYieldFromRoot         = stderrors.New("processor: root intent cannot yield to parent")
)
