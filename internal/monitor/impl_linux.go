//go:build linux

package monitor

import (
	"time"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// watchMask 只关心创建、删除、修改；IN_ONLYDIR 拒绝注册非目录
const watchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY | unix.IN_ONLYDIR

// 一次 read 最多取回的记录数，多余的留在内核队列里
const readBufferSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

type inotifySource struct {
	fd  int
	buf []byte
}

func newSource() (source, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "inotify_init1")
	}
	return &inotifySource{
		fd:  fd,
		buf: make([]byte, readBufferSize),
	}, nil
}

func (s *inotifySource) AddWatch(path string) (model.WatchHandle, error) {
	wd, err := unix.InotifyAddWatch(s.fd, path, watchMask)
	if err != nil {
		return 0, errors.Wrap(err, "inotify_add_watch")
	}
	return model.WatchHandle(wd), nil
}

func (s *inotifySource) RemoveWatch(h model.WatchHandle) error {
	if _, err := unix.InotifyRmWatch(s.fd, uint32(h)); err != nil {
		return errors.Wrap(err, "inotify_rm_watch")
	}
	return nil
}

func (s *inotifySource) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollMillis(timeout))
	if err != nil {
		// 被信号打断，按超时处理，由调用方重新检查停止标志
		if err == unix.EINTR {
			return false, nil
		}
		return false, errors.Wrap(err, "poll")
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, errors.Errorf("poll revents 0x%x on inotify fd", fds[0].Revents)
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

// pollMillis 向上取整到毫秒，避免不足 1ms 的超时变成 0 导致空转
func pollMillis(timeout time.Duration) int {
	ms := int((timeout + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}

func (s *inotifySource) Read() ([]model.RawEvent, error) {
	n, err := unix.Read(s.fd, s.buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read inotify fd")
	}
	if n <= 0 {
		return nil, nil
	}
	return model.DecodeInotify(s.buf[:n])
}

func (s *inotifySource) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return errors.Wrap(err, "close inotify fd")
	}
	return nil
}
