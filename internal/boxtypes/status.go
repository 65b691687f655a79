package boxtypes

// Status is the mutable lifecycle state of a box.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusCrashed  Status = "crashed"
	StatusRemoving Status = "removing"
)

// IsActive reports whether a box in this status counts as occupying
// host resources (PID, disks, mounts).
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusRunning
}

// CanStop reports whether stop() is legal from this status.
func (s Status) CanStop() bool {
	return s.IsActive()
}

// CanExec reports whether an exec-class operation may proceed without
// going through the fresh-init plan first.
func (s Status) CanExec() bool {
	return s == StatusStarting || s == StatusStopped || s == StatusRunning
}
