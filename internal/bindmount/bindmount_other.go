//go:build !linux

package bindmount

import "github.com/cuemby/boxlite/internal/boxerr"

func create(cfg Config) (Handle, error) {
	return nil, boxerr.Unsupportedf("bindmount.create", "bind mounts are only supported on Linux")
}
