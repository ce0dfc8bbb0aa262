//go:build linux || darwin || freebsd || netbsd || openbsd

package inspect

import (
	"io/fs"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// statPlatform reads ownership and times from the stat result already in
// info. Write access is checked for the server's own user.
func statPlatform(path string, info fs.FileInfo) platformInfo {
	var pi platformInfo
	pi.readOnly = unix.Access(path, unix.W_OK) != nil

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return pi
	}
	pi.accessed, pi.created = statTimes(st)

	uid := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(uid); err == nil {
		pi.owner = u.Username
	} else {
		pi.owner = uid
	}
	gid := strconv.FormatUint(uint64(st.Gid), 10)
	if g, err := user.LookupGroupId(gid); err == nil {
		pi.group = g.Name
	} else {
		pi.group = gid
	}
	return pi
}
