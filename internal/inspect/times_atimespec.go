//go:build darwin || freebsd || netbsd

package inspect

import (
	"syscall"
	"time"
)

func statTimes(st *syscall.Stat_t) (accessed, changed *time.Time) {
	a := time.Unix(st.Atimespec.Unix())
	c := time.Unix(st.Ctimespec.Unix())
	return &a, &c
}
