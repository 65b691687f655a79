package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/boxlite/internal/boxid"
)

func TestIsAliveCurrentProcess(t *testing.T) {
	assert.True(t, IsAlive(int32(os.Getpid())))
}

func TestIsAliveInvalidPID(t *testing.T) {
	assert.False(t, IsAlive(999999999))
}

func TestIsSameProcessCurrentProcessIsNotShim(t *testing.T) {
	// The test binary itself is never named boxlite-shim, so this must
	// be false regardless of platform.
	assert.False(t, IsSameProcess(int32(os.Getpid()), boxid.New()))
}

func TestIsSameProcessInvalidPID(t *testing.T) {
	assert.False(t, IsSameProcess(0, boxid.New()))
}
