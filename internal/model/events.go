package model

import "time"

// EventKind 事件分类
type EventKind uint8

const (
	DirectoryCreated EventKind = iota + 1
	FileCreated
	DirectoryRemoved
	FileRemoved
	DirectoryModified
	FileModified
)

var kindNames = map[EventKind]string{
	DirectoryCreated:  "DIR_CREATED",
	FileCreated:       "FILE_CREATED",
	DirectoryRemoved:  "DIR_REMOVED",
	FileRemoved:       "FILE_REMOVED",
	DirectoryModified: "DIR_MODIFIED",
	FileModified:      "FILE_MODIFIED",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsDir 事件对象是否为目录
func (k EventKind) IsDir() bool {
	return k == DirectoryCreated || k == DirectoryRemoved || k == DirectoryModified
}

// Message 用于日志行的可读描述
func (k EventKind) Message() string {
	switch k {
	case DirectoryCreated:
		return "📁 Folder has been created"
	case FileCreated:
		return "📄 File has been created"
	case DirectoryRemoved:
		return "🗑️ Folder has been removed"
	case FileRemoved:
		return "🗑️ File has been removed"
	case DirectoryModified:
		return "✏️ Folder has been modified"
	case FileModified:
		return "✏️ File has been modified"
	}
	return "Unknown change"
}

// FileEvent 一次解析后的文件系统变更 (原始事件 + 监控表 => 完整路径)
type FileEvent struct {
	Kind        EventKind
	Path        string // 完整路径: 监控目录 + "/" + 名称
	ContentType string // 内容嗅探结果 (可选)
	Masquerade  bool   // 后缀与文件头不一致
	TimeStamp   time.Time
}
