package bindmount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateFailsOnMissingSource(t *testing.T) {
	_, err := Create(Config{Source: "/nonexistent/path/for/boxlite/tests", Target: "/tmp/boxlite-bindmount-test-target"})
	assert.Error(t, err)
}
