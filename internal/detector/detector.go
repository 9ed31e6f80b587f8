package detector

import (
	"errors"
	"syscall"
)

// PIDAlive returns true if a process with given pid exists (or EPERM).
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
