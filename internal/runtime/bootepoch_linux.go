//go:build linux

package runtime

import "os"

// currentBootEpoch reads the kernel-assigned boot ID, a UUID unique to
// the current boot and stable across process restarts within it.
func currentBootEpoch() (string, error) {
	raw, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
