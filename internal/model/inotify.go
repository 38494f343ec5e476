package model

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WatchHandle inotify_add_watch 返回的监控描述符 (wd)
type WatchHandle int32

// Mask inotify 事件掩码，取值与内核 ABI 一致
type Mask uint32

const (
	MaskModify     Mask = 0x00000002 // IN_MODIFY
	MaskCreate     Mask = 0x00000100 // IN_CREATE
	MaskDelete     Mask = 0x00000200 // IN_DELETE
	MaskDeleteSelf Mask = 0x00000400 // IN_DELETE_SELF
	MaskUnmount    Mask = 0x00002000 // IN_UNMOUNT
	MaskQOverflow  Mask = 0x00004000 // IN_Q_OVERFLOW
	MaskIgnored    Mask = 0x00008000 // IN_IGNORED
	MaskIsDir      Mask = 0x40000000 // IN_ISDIR
)

func (m Mask) Has(bit Mask) bool { return m&bit == bit }

func (m Mask) IsDir() bool { return m.Has(MaskIsDir) }

// InotifyEventHeaderSize sizeof(struct inotify_event)，不含名称
const InotifyEventHeaderSize = 16

// InotifyEventHeader 对应 C 结构体 inotify_event 的头部
// 后面紧跟 Len 字节的名称 (以 NUL 结尾并补齐)
type InotifyEventHeader struct {
	Wd     int32
	Mask   uint32
	Cookie uint32
	Len    uint32
}

// RawEvent 解码后的一条 inotify 记录
// Name 为空表示管理类事件 (IN_IGNORED, IN_Q_OVERFLOW ...)
type RawEvent struct {
	Handle WatchHandle
	Mask   Mask
	Name   string
}

// DecodeInotify 把一次 read(2) 得到的缓冲区解码为事件列表
// buf: [InotifyEventHeader][name...][InotifyEventHeader][name...] ...
func DecodeInotify(buf []byte) ([]RawEvent, error) {
	reader := bytes.NewReader(buf)
	var events []RawEvent
	for reader.Len() > 0 {
		var hdr InotifyEventHeader
		if err := binary.Read(reader, binary.NativeEndian, &hdr); err != nil {
			return events, errors.Wrapf(err, "short inotify header at offset %d", len(buf)-reader.Len())
		}
		name := ""
		if hdr.Len > 0 {
			if int64(hdr.Len) > int64(reader.Len()) {
				return events, errors.Errorf("inotify name length %d exceeds remaining %d bytes", hdr.Len, reader.Len())
			}
			nameBuf := make([]byte, hdr.Len)
			if _, err := io.ReadFull(reader, nameBuf); err != nil {
				return events, errors.Wrap(err, "read inotify name")
			}
			// 名称以 NUL 结尾，其后是对齐填充
			if idx := bytes.IndexByte(nameBuf, 0); idx != -1 {
				nameBuf = nameBuf[:idx]
			}
			name = string(nameBuf)
		}
		events = append(events, RawEvent{
			Handle: WatchHandle(hdr.Wd),
			Mask:   Mask(hdr.Mask),
			Name:   name,
		})
	}
	return events, nil
}
