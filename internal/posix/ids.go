package posix

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// LookupUser resolves a user name to a uid. Numeric names are taken as-is.
func LookupUser(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown user %q: %w", name, err)
	}
	return strconv.Atoi(u.Uid)
}

// LookupGroup resolves a group name to a gid. Numeric names are taken as-is.
func LookupGroup(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}

// SetIDs switches the process identity. The group is changed first, while
// the process still has the privilege to do so. A negative id leaves that
// part unchanged.
func SetIDs(uid, gid int) error {
	if gid >= 0 {
		if unix.Geteuid() == 0 {
			if err := unix.Setgroups([]int{gid}); err != nil {
				return fmt.Errorf("setgroups(%d): %w", gid, err)
			}
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("setgid(%d): %w", gid, err)
		}
	}
	if uid >= 0 {
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("setuid(%d): %w", uid, err)
		}
	}
	return nil
}
