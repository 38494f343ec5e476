package monitor

import (
	"time"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/pkg/errors"
)

// fakeSource 在内存中模拟 inotify，由测试直接投递记录
type fakeSource struct {
	next    model.WatchHandle
	watches map[model.WatchHandle]string

	addErr    map[string]error
	removeErr error
	waitErr   error
	readErr   error
	closeErr  error

	batches [][]model.RawEvent
	waits   int
	reads   int
	closed  int
	// onWait 在每次 Wait 时调用，可用来触发 Stop
	onWait func(f *fakeSource)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		watches: make(map[model.WatchHandle]string),
		addErr:  make(map[string]error),
	}
}

func (f *fakeSource) AddWatch(path string) (model.WatchHandle, error) {
	if err := f.addErr[path]; err != nil {
		return 0, err
	}
	f.next++
	f.watches[f.next] = path
	return f.next, nil
}

func (f *fakeSource) RemoveWatch(h model.WatchHandle) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.watches[h]; !ok {
		return errors.New("invalid argument")
	}
	delete(f.watches, h)
	return nil
}

func (f *fakeSource) Wait(time.Duration) (bool, error) {
	f.waits++
	if f.onWait != nil {
		f.onWait(f)
	}
	if f.waitErr != nil {
		return false, f.waitErr
	}
	return len(f.batches) > 0, nil
}

func (f *fakeSource) Read() ([]model.RawEvent, error) {
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) Close() error {
	f.closed++
	return f.closeErr
}

func (f *fakeSource) push(events ...model.RawEvent) {
	f.batches = append(f.batches, events)
}

// handle 查找 path 对应的 wd，测试里用来构造记录
func (f *fakeSource) handle(path string) model.WatchHandle {
	for h, p := range f.watches {
		if p == path {
			return h
		}
	}
	return -1
}
