//go:build unix

package analysis

import (
	"os"

	"golang.org/x/sys/unix"
)

const openFlags = os.O_RDONLY | unix.O_NONBLOCK
