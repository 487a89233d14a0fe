package substate

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerkernel/storage"
)

// SchemaVersion identifies the expected on-disk layout of substates and tree
// nodes. Increment it whenever the stored encoding changes.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("meta/schema_version")
	// ErrSchemaVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrSchemaVersionMismatch = errors.New("substate: schema version mismatch")
)

// StoredSchemaVersion returns the recorded version and whether one exists.
func StoredSchemaVersion(db storage.Database) (uint32, bool, error) {
	raw, err := db.Get(schemaVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("substate: malformed schema version (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// SetSchemaVersion records version. Callers invoke this after migrations.
func SetSchemaVersion(db storage.Database, version uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	return db.Put(schemaVersionKey, buf[:])
}

// EnsureSchemaVersion verifies the on-disk schema matches this binary. An
// empty database is stamped with the current version. When allowMigrate is
// true, mismatches are tolerated so operators can migrate manually.
func EnsureSchemaVersion(db storage.Database, allowMigrate bool) error {
	version, ok, err := StoredSchemaVersion(db)
	if err != nil {
		return err
	}
	if !ok {
		return SetSchemaVersion(db, SchemaVersion)
	}
	if version == SchemaVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaVersionMismatch, version, SchemaVersion)
}
