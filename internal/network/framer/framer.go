package framer

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Framer 抽象了面向行的打包/解包能力。
//
// 约定：
//   - 一帧为一行 UTF-8 文本，以 '\n' 结尾，读取时 '\r\n' 同样被接受；
//   - 超过最大长度的行被截断，剩余部分读取后丢弃，不会变成下一帧。
type Framer interface {
	// ReadFrame 读取一行，不含行尾。
	ReadFrame() (string, error)

	// WriteFrame 写出一行并补齐行尾。
	WriteFrame(w io.Writer, line string) error
}

// LineFramer 使用换行符作为帧边界，适用于基于流的连接。
type LineFramer struct {
	r *bufio.Reader

	// MaxLineSize 为单行允许的最大字节数，不含行尾。
	MaxLineSize int
}

const defaultMaxLineSize = 1024

// NewLineFramer 创建一个从 r 读取的行帧编码器。
// maxLineSize 不大于 0 时使用默认值 1024。
func NewLineFramer(r io.Reader, maxLineSize int) *LineFramer {
	if maxLineSize <= 0 {
		maxLineSize = defaultMaxLineSize
	}
	return &LineFramer{
		r:           bufio.NewReaderSize(r, maxLineSize+2),
		MaxLineSize: maxLineSize,
	}
}

// ReadFrame 实现 Framer.ReadFrame。
//
// 对端在未写换行的情况下关闭连接时，已收到的部分作为最后一行返回，
// 下一次调用再返回 io.EOF。
func (f *LineFramer) ReadFrame() (string, error) {
	var (
		buf       []byte
		truncated bool
	)
	for {
		frag, err := f.r.ReadSlice('\n')
		if room := f.MaxLineSize + 2 - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}

		switch {
		case err == nil:
			return f.finish(buf, truncated), nil
		case errors.Is(err, bufio.ErrBufferFull):
			truncated = true
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return f.finish(buf, truncated), nil
		default:
			return "", err
		}
	}
}

// finish 去掉行尾并按最大长度截断。
func (f *LineFramer) finish(buf []byte, truncated bool) string {
	line := string(buf)
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if len(line) > f.MaxLineSize {
		line = line[:f.MaxLineSize]
		truncated = true
	}
	if truncated {
		// 截断可能切开多字节字符。
		line = strings.ToValidUTF8(line, "")
	}
	return line
}

// WriteFrame 实现 Framer.WriteFrame。
func (f *LineFramer) WriteFrame(w io.Writer, line string) error {
	return WriteLine(w, line)
}

// WriteLine 写出一行，line 自身已带换行时不再追加。
func WriteLine(w io.Writer, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(w, line); err != nil {
		return errors.Wrap(err, "framer: write line failed")
	}
	return nil
}
