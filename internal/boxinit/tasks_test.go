package boxinit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/boxlite/internal/boxtypes"
)

func TestMergedPortsUserWinsOnGuestPortCollision(t *testing.T) {
	image := []boxtypes.PortMapping{{Host: 80, Guest: 80, Protocol: boxtypes.ProtocolTCP}}
	user := []boxtypes.PortMapping{{Host: 8080, Guest: 80, Protocol: boxtypes.ProtocolTCP}}

	out := mergedPorts(user, image)

	assert.Len(t, out, 1)
	assert.Equal(t, uint16(80), out[0].Guest)
	assert.Equal(t, uint16(8080), out[0].Host)
}

func TestMergedPortsUnionsDistinctGuestPorts(t *testing.T) {
	image := []boxtypes.PortMapping{{Host: 80, Guest: 80, Protocol: boxtypes.ProtocolTCP}}
	user := []boxtypes.PortMapping{{Host: 9000, Guest: 9000, Protocol: boxtypes.ProtocolTCP}}

	out := mergedPorts(user, image)

	assert.Len(t, out, 2)
}
