//go:build !linux

package monitor

import "github.com/pkg/errors"

func newSource() (source, error) {
	return nil, errors.New("inotify is only available on linux")
}
