package boxerr

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOwnKind(t *testing.T) {
	err := NotFoundf("op", "box %s missing", "abc")
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindInvalidState))
}

func TestErrdefsSeesThroughMappedKinds(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFoundf("op", "missing"), errdefs.IsNotFound},
		{"invalid argument", InvalidArgumentf("op", "bad"), errdefs.IsInvalidArgument},
		{"invalid state", InvalidStatef("op", "wrong state"), errdefs.IsFailedPrecondition},
		{"unsupported", Unsupportedf("op", "no capability"), errdefs.IsNotImplemented},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.True(t, c.check(c.err), "errdefs classifier should see through *boxerr.Error")
		})
	}
}

func TestUnmappedKindsStayPlainErrors(t *testing.T) {
	err := Storagef("op", "disk full")
	assert.False(t, errdefs.IsNotFound(err))
	assert.False(t, errdefs.IsInvalidArgument(err))
	assert.False(t, errdefs.IsFailedPrecondition(err))
	assert.False(t, errdefs.IsNotImplemented(err))
	assert.True(t, Is(err, KindStorage))
}

func TestUnwrapReachesUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("op", cause)
	assert.ErrorIs(t, err, cause)
}
