package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type harness struct {
	m      *Manager
	src    *fakeSource
	events []model.FileEvent
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, root string, opts ...Option) *harness {
	t.Helper()
	h := &harness{src: newFakeSource()}
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	opts = append([]Option{
		WithLogger(zap.New(core)),
		WithSink(SinkFunc(func(ev model.FileEvent) { h.events = append(h.events, ev) })),
	}, opts...)

	m, err := newManager(root, h.src, opts...)
	require.NoError(t, err)
	h.m = m
	t.Cleanup(func() { m.Close() })
	return h
}

func (h *harness) kinds() []model.EventKind {
	kinds := make([]model.EventKind, 0, len(h.events))
	for _, ev := range h.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func TestNew_RegistersWholeTree(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b", "c")
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "g.txt"), []byte("x"), 0o644))

	h := newHarness(t, root)

	assert.Equal(t, 4, h.m.Len())
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "b"),
		filepath.Join(root, "c"),
	}, h.m.Paths())
	assert.Len(t, h.src.watches, 4)
	assert.Equal(t, StateIdle, h.m.State())
}

func TestNew_RegisterFailureRollsBack(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b", "c")
	src := newFakeSource()
	bad := filepath.Join(root, "a", "b")
	src.addErr[bad] = errors.New("no space left on device")

	m, err := newManager(root, src)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrRegisterFailed)

	var regErr *RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, bad, regErr.Path)

	assert.Empty(t, src.watches)
	assert.Equal(t, 1, src.closed)
}

func TestNew_RootFailure(t *testing.T) {
	root := t.TempDir()
	src := newFakeSource()
	src.addErr[root] = errors.New("permission denied")

	_, err := newManager(root, src)
	var regErr *RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, root, regErr.Path)
	assert.Equal(t, 1, src.closed)
}

func TestNew_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	src := newFakeSource()

	// fake 不检查路径，遍历阶段会发现根目录不存在
	_, err := newManager(root, src)
	assert.ErrorIs(t, err, ErrRegisterFailed)
	assert.Empty(t, src.watches)
}

func TestDispatch_Scenario(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	sub := filepath.Join(root, "sub")
	file := filepath.Join(sub, "file.txt")

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskCreate | model.MaskIsDir, Name: "sub"})
	require.NoError(t, h.m.dispatch())
	assert.Equal(t, []model.EventKind{model.DirectoryCreated}, h.kinds())
	assert.Equal(t, sub, h.events[0].Path)
	assert.Equal(t, 2, h.m.Len())
	assert.Contains(t, h.m.Paths(), sub)

	h.src.push(model.RawEvent{Handle: h.src.handle(sub), Mask: model.MaskCreate, Name: "file.txt"})
	require.NoError(t, h.m.dispatch())
	assert.Equal(t, model.FileCreated, h.events[1].Kind)
	assert.Equal(t, file, h.events[1].Path)
	assert.Equal(t, 2, h.m.Len())

	h.src.push(model.RawEvent{Handle: h.src.handle(sub), Mask: model.MaskDelete, Name: "file.txt"})
	require.NoError(t, h.m.dispatch())
	assert.Equal(t, model.FileRemoved, h.events[2].Kind)
	assert.Equal(t, file, h.events[2].Path)
	assert.Equal(t, 2, h.m.Len())

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskDelete | model.MaskIsDir, Name: "sub"})
	require.NoError(t, h.m.dispatch())
	assert.Equal(t, model.DirectoryRemoved, h.events[3].Kind)
	assert.Equal(t, sub, h.events[3].Path)
	assert.Equal(t, 1, h.m.Len())
	assert.Equal(t, []string{root}, h.m.Paths())
}

func TestDispatch_ModifyIsNotDeduplicated(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	wd := h.src.handle(root)

	h.src.push(
		model.RawEvent{Handle: wd, Mask: model.MaskModify, Name: "log.txt"},
		model.RawEvent{Handle: wd, Mask: model.MaskModify, Name: "log.txt"},
		model.RawEvent{Handle: wd, Mask: model.MaskModify, Name: "log.txt"},
		model.RawEvent{Handle: wd, Mask: model.MaskModify | model.MaskIsDir, Name: "d"},
	)
	for i := 0; i < 4; i++ {
		require.NoError(t, h.m.dispatch())
	}

	assert.Equal(t, []model.EventKind{
		model.FileModified, model.FileModified, model.FileModified, model.DirectoryModified,
	}, h.kinds())
	// 一次读取只调用一次 Read，剩余记录排队
	assert.Equal(t, 1, h.src.reads)
	assert.Equal(t, 1, h.logs.FilterMessage("more than one event in a single read").Len())
}

func TestDispatch_SkipsAdministrativeEvents(t *testing.T) {
	h := newHarness(t, t.TempDir())

	h.src.push(
		model.RawEvent{Handle: 99, Mask: model.MaskIgnored},
		model.RawEvent{Handle: -1, Mask: model.MaskQOverflow},
	)
	require.NoError(t, h.m.dispatch())
	require.NoError(t, h.m.dispatch())
	assert.Empty(t, h.events)
}

func TestDispatch_EmptyRead(t *testing.T) {
	h := newHarness(t, t.TempDir())
	require.NoError(t, h.m.dispatch())
	assert.Empty(t, h.events)
}

func TestDispatch_UnknownHandle(t *testing.T) {
	h := newHarness(t, t.TempDir())

	h.src.push(model.RawEvent{Handle: 99, Mask: model.MaskCreate, Name: "x"})
	err := h.m.dispatch()
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Empty(t, h.events)
}

func TestDispatch_RegisterFailureOnCreate(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	sub := filepath.Join(root, "sub")
	h.src.addErr[sub] = errors.New("no space left on device")

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskCreate | model.MaskIsDir, Name: "sub"})
	err := h.m.dispatch()

	var regErr *RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, sub, regErr.Path)
	assert.Equal(t, []model.EventKind{model.DirectoryCreated}, h.kinds())
	assert.Equal(t, 1, h.m.Len())
}

func TestDispatch_RecreatedDirectoryReplacesStaleEntry(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "sub")
	h := newHarness(t, root)
	sub := filepath.Join(root, "sub")
	stale := h.src.handle(sub)

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskCreate | model.MaskIsDir, Name: "sub"})
	require.NoError(t, h.m.dispatch())

	assert.Equal(t, 2, h.m.Len())
	assert.NotEqual(t, stale, h.src.handle(sub))
	_, err := h.m.reg.resolve(stale)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestDispatch_RemovedUnwatchedDirectory(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskDelete | model.MaskIsDir, Name: "ghost"})
	require.NoError(t, h.m.dispatch())
	assert.Empty(t, h.events)
	assert.Equal(t, 1, h.m.Len())
}

func TestDispatch_ReadFailure(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.src.readErr = errors.New("bad file descriptor")

	err := h.m.dispatch()
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.ErrorIs(t, err, h.src.readErr)
}

func TestEmit_LogLine(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)

	h.src.push(model.RawEvent{Handle: h.src.handle(root), Mask: model.MaskCreate, Name: "a.txt"})
	require.NoError(t, h.m.dispatch())

	entries := h.logs.FilterMessage(model.FileCreated.Message()).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, map[string]interface{}{
		"kind": "FILE_CREATED",
		"path": filepath.Join(root, "a.txt"),
	}, entries[0].ContextMap())
}

type stubAnnotator struct{ calls int }

func (s *stubAnnotator) Annotate(ev *model.FileEvent) {
	s.calls++
	ev.ContentType = "image/png"
	ev.Masquerade = true
}

func TestEmit_Annotator(t *testing.T) {
	root := t.TempDir()
	ann := &stubAnnotator{}
	h := newHarness(t, root, WithAnnotator(ann))
	wd := h.src.handle(root)

	h.src.push(
		model.RawEvent{Handle: wd, Mask: model.MaskCreate, Name: "photo.txt"},
		model.RawEvent{Handle: wd, Mask: model.MaskModify, Name: "photo.txt"},
		model.RawEvent{Handle: wd, Mask: model.MaskDelete, Name: "photo.txt"},
	)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.m.dispatch())
	}

	// 只有写入后的 FileModified 会被检测
	assert.Equal(t, 1, ann.calls)
	assert.Equal(t, model.FileCreated, h.events[0].Kind)
	assert.Empty(t, h.events[0].ContentType)
	assert.Equal(t, "image/png", h.events[1].ContentType)
	assert.True(t, h.events[1].Masquerade)
	assert.Empty(t, h.events[2].ContentType)

	warned := h.logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("content_type", "image/png"))
	assert.Equal(t, 1, warned.Len())
}

func TestRun_StopEndsLoop(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.src.onWait = func(f *fakeSource) {
		if f.waits == 3 {
			h.m.Stop()
		}
	}

	require.NoError(t, h.m.Run())
	assert.Equal(t, 3, h.src.waits)
	assert.Equal(t, StateStopped, h.m.State())
	assert.Zero(t, h.src.reads)
}

func TestRun_DrainsQueuedEventsWithoutWaiting(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	wd := h.src.handle(root)
	h.src.push(
		model.RawEvent{Handle: wd, Mask: model.MaskCreate, Name: "a"},
		model.RawEvent{Handle: wd, Mask: model.MaskCreate, Name: "b"},
	)
	h.src.onWait = func(f *fakeSource) {
		if len(f.batches) == 0 {
			h.m.Stop()
		}
	}

	require.NoError(t, h.m.Run())
	assert.Equal(t, []model.EventKind{model.FileCreated, model.FileCreated}, h.kinds())
	assert.Equal(t, 2, h.src.waits)
	assert.Equal(t, 1, h.src.reads)
}

func TestRun_StopBeforeRun(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.m.Stop()
	h.m.Stop()

	require.NoError(t, h.m.Run())
	assert.Zero(t, h.src.waits)
}

func TestRun_OnlyOnce(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.m.Stop()
	require.NoError(t, h.m.Run())
	assert.ErrorIs(t, h.m.Run(), ErrNotIdle)
}

func TestRun_WaitFailure(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.src.waitErr = errors.New("interrupted system call")

	err := h.m.Run()
	assert.ErrorIs(t, err, ErrWaitFailed)
	assert.ErrorIs(t, err, h.src.waitErr)
	assert.NotErrorIs(t, err, ErrDispatchFailed)
	assert.Equal(t, StateStopped, h.m.State())
}

func TestRun_DispatchFailure(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.src.push(model.RawEvent{Handle: 99, Mask: model.MaskModify, Name: "x"})

	err := h.m.Run()
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.NotErrorIs(t, err, ErrWaitFailed)
	assert.Equal(t, 1, h.logs.FilterMessage("something went wrong, stopping").Len())
}

func TestClose_UnregistersEverything(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b")
	h := newHarness(t, root)
	require.Len(t, h.src.watches, 3)

	require.NoError(t, h.m.Close())
	assert.Empty(t, h.src.watches)
	assert.Zero(t, h.m.Len())
	assert.Equal(t, 1, h.src.closed)

	require.NoError(t, h.m.Close())
	assert.Equal(t, 1, h.src.closed)
}

func TestClose_SwallowsUnregisterErrors(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b")
	h := newHarness(t, root)
	h.src.removeErr = errors.New("invalid argument")

	require.NoError(t, h.m.Close())
	assert.Equal(t, 1, h.src.closed)
	assert.Equal(t, 3, h.logs.FilterMessage("can't remove watch").Len())
}

func TestClose_ReportsSourceCloseError(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.src.closeErr = errors.New("bad file descriptor")

	assert.ErrorIs(t, h.m.Close(), h.src.closeErr)
}
