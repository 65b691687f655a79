//go:build linux

package process

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cuemby/boxlite/internal/boxid"
)

func isAlive(pid int32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil
}

func kill(pid int32) bool {
	err := unix.Kill(int(pid), unix.SIGKILL)
	return err == nil || err == unix.ESRCH
}

func isSameProcess(pid int32, id boxid.ID) bool {
	raw, err := os.ReadFile(cmdlinePath(pid))
	if err != nil {
		return false
	}
	args := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	cmdline := string(raw)

	hasBinary := false
	for _, arg := range args {
		if strings.Contains(arg, VmmBinaryName) {
			hasBinary = true
			break
		}
	}
	return hasBinary && boxid.HasBoxID(cmdline, id)
}

func cmdlinePath(pid int32) string {
	return "/proc/" + strconv.Itoa(int(pid)) + "/cmdline"
}
