package monitor

import (
	"sort"

	"github.com/Hara602/treeSentry/internal/model"
)

// registry wd -> 目录路径
// 只由运行循环所在的 goroutine 访问
type registry struct {
	dirs map[model.WatchHandle]string
}

func newRegistry() *registry {
	return &registry{dirs: make(map[model.WatchHandle]string)}
}

func (r *registry) insert(h model.WatchHandle, path string) {
	r.dirs[h] = path
}

func (r *registry) remove(h model.WatchHandle) {
	delete(r.dirs, h)
}

func (r *registry) resolve(h model.WatchHandle) (string, error) {
	path, ok := r.dirs[h]
	if !ok {
		return "", ErrUnknownHandle
	}
	return path, nil
}

// removePath 删除所有指向 path 的条目，返回被删除的 wd (正常情况下至多一个)
func (r *registry) removePath(path string) []model.WatchHandle {
	var removed []model.WatchHandle
	for h, p := range r.dirs {
		if p == path {
			removed = append(removed, h)
		}
	}
	for _, h := range removed {
		delete(r.dirs, h)
	}
	return removed
}

func (r *registry) len() int { return len(r.dirs) }

func (r *registry) paths() []string {
	paths := make([]string, 0, len(r.dirs))
	for _, p := range r.dirs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *registry) clear() {
	r.dirs = make(map[model.WatchHandle]string)
}
