package analysis

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// filetype 库建议的最短文件头长度
const headerSize = 262

// Result 检测结果
type Result struct {
	MIME        string // 根据文件头识别的类型，未知时为空
	RealExt     string
	DeclaredExt string
	Mismatch    bool // 文件名后缀与文件头不一致
}

// TypeInspector 根据文件头判断真实类型，并与文件名后缀比较
type TypeInspector struct {
	// 真实类型 -> 合法的后缀集合 (例如 zip 容器下的 docx)
	aliases map[string]map[string]bool
	log     *zap.Logger
}

func NewTypeInspector(log *zap.Logger) *TypeInspector {
	if log == nil {
		log = zap.NewNop()
	}
	t := &TypeInspector{aliases: make(map[string]map[string]bool), log: log}
	t.allow("zip", "docx", "xlsx", "pptx", "odt", "ods", "odp", "jar", "apk", "whl", "epub")
	t.allow("xml", "svg", "html", "htm", "plist")
	t.allow("mp4", "m4v", "m4a", "mov")
	t.allow("mov", "mp4", "qt")
	t.allow("ogg", "oga", "ogv", "opus")
	t.allow("gz", "gzip", "tgz")
	t.allow("jpg", "jpeg", "jpe")
	t.allow("tif", "tiff")
	t.allow("exe", "dll", "sys", "scr")
	return t
}

func (t *TypeInspector) allow(realExt string, exts ...string) {
	set, ok := t.aliases[realExt]
	if !ok {
		set = map[string]bool{realExt: true}
		t.aliases[realExt] = set
	}
	for _, ext := range exts {
		set[ext] = true
	}
}

// Inspect 读取文件头并识别
// 空文件或无法识别的内容 (大多数文本) 返回空 MIME，不视为不一致
// 只读取普通文件：FIFO、设备、socket 以及符号链接都直接返回空结果
func (t *TypeInspector) Inspect(path string) (Result, error) {
	res := Result{DeclaredExt: strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))}

	info, err := os.Lstat(path)
	if err != nil {
		return res, errors.Wrap(err, "stat file failed")
	}
	if !info.Mode().IsRegular() {
		return res, nil
	}

	// Lstat 之后路径可能被换成 FIFO，非阻塞打开保证不会卡住
	f, err := os.OpenFile(path, openFlags, 0)
	if err != nil {
		return res, errors.Wrap(err, "open file failed")
	}
	defer f.Close()
	if info, err = f.Stat(); err != nil {
		return res, errors.Wrap(err, "stat file failed")
	}
	if !info.Mode().IsRegular() {
		return res, nil
	}

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return res, errors.Wrap(err, "read file header failed")
	}
	if n == 0 {
		return res, nil
	}

	kind, _ := filetype.Match(head[:n])
	if kind == filetype.Unknown {
		return res, nil
	}
	res.MIME = kind.MIME.Value
	res.RealExt = kind.Extension

	// 没有后缀的文件不判断伪装
	if res.DeclaredExt == "" {
		return res, nil
	}
	res.Mismatch = !t.compatible(res.RealExt, res.DeclaredExt)
	return res, nil
}

func (t *TypeInspector) compatible(realExt, declaredExt string) bool {
	if realExt == declaredExt {
		return true
	}
	return t.aliases[realExt][declaredExt]
}

// Annotate 实现 monitor.Annotator
// 文件可能在事件到达前已被删除，此时只记录调试日志
func (t *TypeInspector) Annotate(ev *model.FileEvent) {
	res, err := t.Inspect(ev.Path)
	if err != nil {
		t.log.Debug("filetype inspect failed", zap.String("path", ev.Path), zap.Error(err))
		return
	}
	ev.ContentType = res.MIME
	ev.Masquerade = res.Mismatch
}
