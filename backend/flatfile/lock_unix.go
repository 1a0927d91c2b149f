//go:build !windows

package flatfile

import "golang.org/x/sys/unix"

// lockExclusive takes an advisory BSD flock on fd so two writable Backends
// never open the same image concurrently, mirroring the advisory locking
// tinyrange-cc's hv/kvm layer takes on its device file descriptors before
// handing them to a guest.
func lockExclusive(fd int) error {
	return unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
}
