//go:build !unix

package analysis

import "os"

const openFlags = os.O_RDONLY
