// Package store implements the durable metadata store: one row per box
// (config + state JSON blobs plus queryable columns) backed by SQLite,
// a singleton schema_version row, and a singleton boot_epoch row used to
// detect host reboots across runtime-process restarts.
package store

import (
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxtypes"
)

// BoxStore is the durable half of the registry. Every method is a
// single transaction; callers that need config+state consistency across
// multiple calls must hold their own lock (the registry does).
type BoxStore interface {
	// Save upserts both the config and state blobs and their indexed
	// columns atomically.
	Save(cfg boxtypes.Config, st boxtypes.State) error

	UpdateStatus(id boxid.ID, status boxtypes.Status) error
	UpdatePID(id boxid.ID, pid *int32) error
	UpdateContainerID(id boxid.ID, containerID string) error

	Get(id boxid.ID) (boxtypes.Config, boxtypes.State, error)
	GetByName(name string) (boxtypes.Config, boxtypes.State, error)
	ListAll() ([]Record, error)

	// Delete removes the row. Returns a NotFound error if absent.
	Delete(id boxid.ID) error

	// CheckAndUpdateBoot compares the persisted boot epoch against
	// current and reports whether a reboot was detected, updating the
	// stored epoch to current in the same transaction.
	CheckAndUpdateBoot(current string) (rebooted bool, err error)

	// ResetActiveAfterReboot transitions every Starting|Running row to
	// Stopped and clears its PID, returning the affected IDs. Disks are
	// untouched by this call.
	ResetActiveAfterReboot() ([]boxid.ID, error)

	Close() error
}

// Record pairs a stored Config and State, as returned by ListAll.
type Record struct {
	Config boxtypes.Config
	State  boxtypes.State
}

// SchemaVersion is the version this binary writes and expects. Opening a
// database written by a newer version is a hard error; an older version
// is accepted with a logged warning (no migration is run).
const SchemaVersion = 1

const defaultBusyTimeoutMS = 100_000 // 100s, matches spec's "bounded wait timeout (>=100s)"
