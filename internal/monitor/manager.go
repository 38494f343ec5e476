package monitor

import (
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Manager 递归监控一棵目录树
//
// New 时注册根目录及其全部子目录；Run 在当前 goroutine 中阻塞，
// 逐条读取 inotify 记录并分类输出，直到 Stop 被调用或发生不可恢复的错误。
// 除 Stop 与 State 外，其余方法都不能与 Run 并发调用。
//
// 已知缺陷：被直接监控的目录自身被删除时，内核不一定给出对应的删除事件，
// 这种情况下不会输出 DirectoryRemoved，监控表中的条目也可能残留。
type Manager struct {
	root    string
	src     source
	reg     *registry
	pending []model.RawEvent

	log       *zap.Logger
	sinks     []Sink
	annotator Annotator
	timeout   time.Duration

	stop   atomic.Bool
	state  atomic.Int32
	closed bool
}

type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithSink(s Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, s) }
}

func WithAnnotator(a Annotator) Option {
	return func(m *Manager) { m.annotator = a }
}

// New 打开 inotify 并注册 root 下的整棵目录树
// 任一目录注册失败都会清理已注册的部分并返回错误
func New(root string, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", root)
	}
	src, err := newSource()
	if err != nil {
		return nil, fail(ErrSourceInitFailed, err)
	}
	return newManager(abs, src, opts...)
}

func newManager(root string, src source, opts ...Option) (*Manager, error) {
	m := &Manager{
		root:    filepath.Clean(root),
		src:     src,
		reg:     newRegistry(),
		log:     zap.NewNop(),
		timeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.registerTree(); err != nil {
		m.Close()
		return nil, err
	}
	m.log.Info("watch tree registered",
		zap.String("root", m.root),
		zap.Int("directories", m.reg.len()))
	return m, nil
}

// registerTree 先注册根目录，再深度优先遍历注册每个子目录
// 文件本身不注册，由所在目录的监控覆盖
func (m *Manager) registerTree() error {
	if err := m.register(m.root); err != nil {
		return err
	}
	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.log.Error("can't walk directory", zap.String("path", path), zap.Error(err))
			return &RegisterError{Path: path, Err: err}
		}
		if path == m.root || !d.IsDir() {
			return nil
		}
		return m.register(path)
	})
}

func (m *Manager) register(path string) error {
	h, err := m.src.AddWatch(path)
	if err != nil {
		m.log.Error("inotify_add_watch() failed, can't add", zap.String("path", path), zap.Error(err))
		return &RegisterError{Path: path, Err: err}
	}
	m.reg.insert(h, path)
	m.log.Debug("watch added", zap.String("path", path), zap.Int32("wd", int32(h)))
	return nil
}

// unregister 尽力移除，失败只记录日志
func (m *Manager) unregister(h model.WatchHandle, path string) {
	if err := m.src.RemoveWatch(h); err != nil {
		m.log.Warn("can't remove watch",
			zap.String("path", path),
			zap.Error(fail(ErrUnregisterFailed, err)))
	}
}

// Run 进入等待循环，直到 Stop 或出现致命错误
// 正常停止返回 nil；ErrWaitFailed / ErrDispatchFailed 表示异常退出
func (m *Manager) Run() error {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	defer m.state.Store(int32(StateStopped))

	m.log.Info("monitoring started", zap.String("root", m.root))
	for !m.stop.Load() {
		// 上一次读取剩下的记录无需等待
		ready := len(m.pending) > 0
		if !ready {
			var err error
			ready, err = m.src.Wait(m.timeout)
			if err != nil {
				m.log.Error("wait for inotify events failed", zap.Error(err))
				return fail(ErrWaitFailed, err)
			}
		}
		if !ready {
			continue
		}
		if err := m.dispatch(); err != nil {
			m.log.Error("something went wrong, stopping", zap.Error(err))
			return fail(ErrDispatchFailed, err)
		}
	}
	m.log.Info("monitoring stopped", zap.String("root", m.root))
	return nil
}

// Stop 请求停止，可在任意 goroutine (包括信号处理) 中重复调用
// 运行循环最迟在一个等待超时后退出；在 Run 之前调用则 Run 立即返回
func (m *Manager) Stop() {
	m.stop.Store(true)
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// dispatch 处理一条记录；一次读取得到多条时排队，逐条交给后续循环
func (m *Manager) dispatch() error {
	if len(m.pending) == 0 {
		events, err := m.src.Read()
		if err != nil {
			m.log.Error("failed to read event", zap.Error(err))
			return fail(ErrReadFailed, err)
		}
		if len(events) > 1 {
			m.log.Warn("more than one event in a single read", zap.Int("count", len(events)))
		}
		m.pending = events
	}
	if len(m.pending) == 0 {
		return nil
	}
	ev := m.pending[0]
	m.pending = m.pending[1:]
	return m.handle(ev)
}

func (m *Manager) handle(ev model.RawEvent) error {
	// 管理类事件 (IN_IGNORED / IN_Q_OVERFLOW) 没有名称
	if ev.Name == "" {
		return nil
	}

	dir, err := m.reg.resolve(ev.Handle)
	if err != nil {
		m.log.Error("event from unknown watch descriptor",
			zap.Int32("wd", int32(ev.Handle)),
			zap.String("name", ev.Name))
		return err
	}
	fullPath := filepath.Join(dir, ev.Name)
	isDir := ev.Mask.IsDir()

	switch {
	case ev.Mask.Has(model.MaskCreate):
		if !isDir {
			m.emit(model.FileCreated, fullPath)
			return nil
		}
		m.emit(model.DirectoryCreated, fullPath)
		// 同一路径不能重复注册，先清掉残留条目
		for _, h := range m.reg.removePath(fullPath) {
			m.unregister(h, fullPath)
		}
		return m.register(fullPath)

	case ev.Mask.Has(model.MaskDelete):
		if !isDir {
			m.emit(model.FileRemoved, fullPath)
			return nil
		}
		// 内核已随目录删除自动移除 wd，这里只更新监控表
		for range m.reg.removePath(fullPath) {
			m.emit(model.DirectoryRemoved, fullPath)
		}

	case ev.Mask.Has(model.MaskModify):
		if isDir {
			m.emit(model.DirectoryModified, fullPath)
		} else {
			m.emit(model.FileModified, fullPath)
		}
	}
	return nil
}

func (m *Manager) emit(kind model.EventKind, path string) {
	ev := model.FileEvent{Kind: kind, Path: path, TimeStamp: time.Now()}
	// 刚创建的文件通常还是空的，只在写入后检测
	if m.annotator != nil && kind == model.FileModified {
		m.annotator.Annotate(&ev)
	}

	fields := []zap.Field{zap.String("kind", kind.String()), zap.String("path", path)}
	if ev.ContentType != "" {
		fields = append(fields, zap.String("content_type", ev.ContentType))
	}
	if ev.Masquerade {
		m.log.Warn(kind.Message()+" (extension does not match content)", fields...)
	} else {
		m.log.Info(kind.Message(), fields...)
	}

	for _, s := range m.sinks {
		s.Handle(ev)
	}
}

// Close 移除全部监控并关闭 inotify fd，重复调用无副作用
// 移除失败只记录日志，保证关闭流程走完
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for h, path := range m.reg.dirs {
		m.unregister(h, path)
	}
	m.reg.clear()
	m.pending = nil

	if err := m.src.Close(); err != nil {
		m.log.Error("close() failed, can't close inotify fd", zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) Root() string { return m.root }

// Len 当前监控的目录数
func (m *Manager) Len() int { return m.reg.len() }

// Paths 当前监控的目录，按字典序
func (m *Manager) Paths() []string { return m.reg.paths() }
