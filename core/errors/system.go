package errors

import stderrors "errors"

var (
	ErrGlobalAddressNotFound = stderrors.New("system: global address does not exist")
	ErrInvalidGlobalize      = stderrors.New("system: invalid globalize")
	ErrPersistTransient      = stderrors.New("system: transient node cannot be persisted")
	ErrBlueprintNotFound     = stderrors.New("system: blueprint not found")
	ErrPackageNotFound       = stderrors.New("system: package not found")
	ErrTypeMismatch          = stderrors.New("system: type mismatch")
	ErrInvalidTypeInfo       = stderrors.New("system: invalid type info")
	ErrReservationNotFound   = stderrors.New("system: address reservation not found")
	ErrInvalidPackage        = stderrors.New("system: invalid package definition")
	ErrStoreAccess           = stderrors.New("system: store access failed")
	ErrForeignNode           = stderrors.New("system: node belongs to another package")
	ErrEntityNotPermitted    = stderrors.New("system: entity type not permitted for package")
)
