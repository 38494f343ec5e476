package monitor

import (
	"time"

	"github.com/Hara602/treeSentry/internal/model"
)

// source 操作系统通知源 (Linux 下为 inotify fd)
type source interface {
	// AddWatch 非递归地监控 path 下的创建、删除、修改
	AddWatch(path string) (model.WatchHandle, error)
	RemoveWatch(h model.WatchHandle) error
	// Wait 等待可读，超时返回 false
	Wait(timeout time.Duration) (bool, error)
	// Read 读取一批记录，可能为空
	Read() ([]model.RawEvent, error)
	Close() error
}

// Sink 接收分类后的事件，在运行循环的 goroutine 中同步调用
type Sink interface {
	Handle(ev model.FileEvent)
}

type SinkFunc func(ev model.FileEvent)

func (f SinkFunc) Handle(ev model.FileEvent) { f(ev) }

// Annotator 在记录日志前补充事件信息 (例如内容类型)，只用于 FileModified
type Annotator interface {
	Annotate(ev *model.FileEvent)
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultPollTimeout 等待超时，也是 Stop 生效的最大延迟
const DefaultPollTimeout = time.Second
