//go:build linux || openbsd

package inspect

import (
	"syscall"
	"time"
)

func statTimes(st *syscall.Stat_t) (accessed, changed *time.Time) {
	a := time.Unix(st.Atim.Unix())
	c := time.Unix(st.Ctim.Unix())
	return &a, &c
}
