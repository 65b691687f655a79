package process

import "github.com/cuemby/boxlite/internal/boxid"

// Checker abstracts IsAlive/IsSameProcess behind an interface so
// callers that verify a persisted PID (the registry's refresh sweep,
// the init pipeline's reattach task) can be driven by a fake in tests
// instead of depending on a real entry in the OS process table.
type Checker interface {
	IsAlive(pid int32) bool
	IsSameProcess(pid int32, id boxid.ID) bool
}

// Real is the production Checker, backed by the real process table.
type Real struct{}

func (Real) IsAlive(pid int32) bool                   { return IsAlive(pid) }
func (Real) IsSameProcess(pid int32, id boxid.ID) bool { return IsSameProcess(pid, id) }
