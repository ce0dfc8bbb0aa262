//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package inspect

import "io/fs"

// Ownership and access times are not reported on this platform.
func statPlatform(path string, info fs.FileInfo) platformInfo {
	return platformInfo{readOnly: info.Mode().Perm()&0o200 == 0}
}
