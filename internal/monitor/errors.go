package monitor

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrSourceInitFailed = errors.New("inotify init failed")
	ErrRegisterFailed   = errors.New("add watch failed")
	ErrUnregisterFailed = errors.New("remove watch failed")
	ErrUnknownHandle    = errors.New("unknown watch descriptor")
	ErrReadFailed       = errors.New("failed to read event")
	ErrWaitFailed       = errors.New("poll failed")
	ErrDispatchFailed   = errors.New("event dispatch failed")
	ErrNotIdle          = errors.New("manager already started")
)

// RegisterError 某个目录无法加入监控
type RegisterError struct {
	Path string
	Err  error
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("can't add watch for %s: %v", e.Path, e.Err)
}

func (e *RegisterError) Unwrap() error { return e.Err }

func (e *RegisterError) Is(target error) bool { return target == ErrRegisterFailed }

// failure 给底层错误打上分类标签，errors.Is 对两者都成立
type failure struct {
	kind  error
	cause error
}

func fail(kind, cause error) error {
	return &failure{kind: kind, cause: cause}
}

func (f *failure) Error() string { return f.kind.Error() + ": " + f.cause.Error() }

func (f *failure) Unwrap() []error { return []error{f.kind, f.cause} }
