// Package privdrop drops root privileges: an optional chroot, then setgid,
// then setuid.
package privdrop

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// Chroot changes the process root to dir. It must be called before
// SetUser/SetGroup, while the process still has the privilege to do so.
func Chroot(dir string) (err error) {
	if dir == "" {
		return nil
	}

	if err = syscall.Chroot(dir); err != nil {
		return fmt.Errorf("chroot to %q: %w", dir, err)
	}

	return syscall.Chdir("/")
}

// SetGroup looks up groupName and calls setgid(2) with its gid.
func SetGroup(groupName string) (err error) {
	g, err := user.LookupGroup(groupName)
	if err != nil {
		return fmt.Errorf("looking up group: %w", err)
	}

	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid: %w", err)
	}

	if err = syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setting gid: %w", err)
	}

	return nil
}

// SetUser looks up userName and calls setuid(2) with its uid. Callers must
// call SetGroup first: setuid(2) drops the privilege setgid(2) needs.
func SetUser(userName string) (err error) {
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parsing uid: %w", err)
	}

	if err = syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setting uid: %w", err)
	}

	return nil
}

// Drop performs the full sequence: chroot (if dir is non-empty), then
// group, then user, in the order privilege boundaries require.
func Drop(chrootDir, groupName, userName string) (err error) {
	if err = Chroot(chrootDir); err != nil {
		return err
	}

	if groupName != "" {
		if err = SetGroup(groupName); err != nil {
			return err
		}
	}

	if userName != "" {
		if err = SetUser(userName); err != nil {
			return err
		}
	}

	return nil
}
