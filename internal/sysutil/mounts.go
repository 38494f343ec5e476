package sysutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MountEntry /proc/mounts 中的一行
type MountEntry struct {
	Device     string
	MountPoint string
	FSType     string
}

// inotify 只能看到本机发起的修改
var remoteFS = map[string]bool{
	"nfs":   true,
	"nfs4":  true,
	"cifs":  true,
	"smb3":  true,
	"9p":    true,
	"fuse":  true,
	"sshfs": true,
}

func ParseMounts(r io.Reader) []MountEntry {
	var mounts []MountEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, MountEntry{
			Device:     fields[0],
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		})
	}
	return mounts
}

// /proc/mounts 中空格等字符以八进制转义，例如 \040
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

// FindMount 返回包含 path 的最长挂载点
func FindMount(mounts []MountEntry, path string) (MountEntry, bool) {
	path = filepath.Clean(path)
	var best MountEntry
	found := false
	for _, m := range mounts {
		mp := filepath.Clean(m.MountPoint)
		if mp != "/" && path != mp && !strings.HasPrefix(path, mp+"/") {
			continue
		}
		if !found || len(mp) >= len(filepath.Clean(best.MountPoint)) {
			best = m
			found = true
		}
	}
	return best, found
}

func IsRemoteFS(fsType string) bool {
	return remoteFS[fsType] || strings.HasPrefix(fsType, "fuse.")
}

// CheckMount 记录监控根目录所在的文件系统，网络/FUSE 文件系统给出警告
func CheckMount(log *zap.Logger, root string) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		log.Debug("can't read mount table", zap.Error(err))
		return
	}
	defer f.Close()

	m, ok := FindMount(ParseMounts(f), root)
	if !ok {
		return
	}
	fields := []zap.Field{
		zap.String("root", root),
		zap.String("mount", m.MountPoint),
		zap.String("fstype", m.FSType),
	}
	if IsRemoteFS(m.FSType) {
		log.Warn("root is on a remote filesystem, changes made by other hosts are not reported", fields...)
		return
	}
	log.Info("root filesystem", fields...)
}
