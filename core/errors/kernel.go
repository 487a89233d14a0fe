package errors

import stderrors "errors"

var (
	ErrNodeNotFound         = stderrors.New("kernel: node not found")
	ErrNodeNotVisible       = stderrors.New("kernel: node not visible")
	ErrNodeNotOwned         = stderrors.New("kernel: node not owned by frame")
	ErrNodeIDAlreadyUsed    = stderrors.New("kernel: node id already used")
	ErrNodeIDNotAllocated   = stderrors.New("kernel: node id not allocated")
	ErrEntityTypeNotAllowed = stderrors.New("kernel: entity type not allowed")
	ErrOrphanedNode         = stderrors.New("kernel: orphaned node at frame exit")
	ErrInvalidDropAccess    = stderrors.New("kernel: invalid drop access")
	ErrNodeLocked           = stderrors.New("kernel: node has open locks")
	ErrNodeMoveNotAllowed   = stderrors.New("kernel: node move not allowed")
	ErrLockConflict         = stderrors.New("kernel: substate lock conflict")
	ErrLockNotFound         = stderrors.New("kernel: lock handle not found")
	ErrLockNotMutable       = stderrors.New("kernel: lock is not mutable")
	ErrSubstateNotFound     = stderrors.New("kernel: substate not found")
	ErrSubstateTooLarge     = stderrors.New("kernel: substate too large")
	ErrInvalidSubstateKey   = stderrors.New("kernel: invalid substate key")
	ErrInvalidSubstateWrite = stderrors.New("kernel: invalid substate write")
	ErrCallDepthExceeded    = stderrors.New("kernel: call depth limit exceeded")
	ErrStackNotFound        = stderrors.New("kernel: call stack not found")
	ErrTooManyEvents        = stderrors.New("kernel: event limit exceeded")
	ErrTooManyLogs          = stderrors.New("kernel: log limit exceeded")
)
