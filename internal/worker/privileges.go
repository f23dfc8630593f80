package worker

import (
	"github.com/golemteam/golem/internal/posix"
)

// ApplyPrivileges switches the current process to user and group. Both
// names are resolved before anything changes, so a lookup failure leaves
// the identity untouched. Empty names are skipped.
func ApplyPrivileges(user, group string) error {
	uid, gid := -1, -1
	var err error
	if user != "" {
		if uid, err = posix.LookupUser(user); err != nil {
			return err
		}
	}
	if group != "" {
		if gid, err = posix.LookupGroup(group); err != nil {
			return err
		}
	}
	if uid < 0 && gid < 0 {
		return nil
	}
	return posix.SetIDs(uid, gid)
}
