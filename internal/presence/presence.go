// Package presence 维护“某个用户名当前在线”的登录标记。
//
// 标记是目录下以点号开头的隐藏文件，文件存在即表示在线，
// 外部脚本可以据此判断用户是否已登录。
package presence

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Marker 是登录标记的接口。
type Marker interface {
	// Acquire 标记 name 在线。同名多次 Acquire 需要同样次数的 Release。
	Acquire(name string) error
	// Release 撤销一次 Acquire，最后一次撤销时删除标记。
	Release(name string) error
	// Held 判断 name 当前是否在线。
	Held(name string) bool
}

// FileMarker 使用隐藏文件作为登录标记。
type FileMarker struct {
	dir string

	mu   sync.Mutex
	held map[string]int
}

var _ Marker = (*FileMarker)(nil)

// NewFileMarker 创建目录并返回一个 FileMarker。
func NewFileMarker(dir string) (*FileMarker, error) {
	if dir == "" {
		return nil, merr.WrapErrParameterMissing("presence.dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(dir, err)
	}
	return &FileMarker{
		dir:  dir,
		held: make(map[string]int),
	}, nil
}

// Path 返回 name 对应的标记文件路径。
// 用户名经过转义，不会逃出目录。
func (m *FileMarker) Path(name string) string {
	escaped := url.PathEscape(name)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return filepath.Join(m.dir, "."+escaped)
}

// Acquire 实现 Marker.Acquire。
func (m *FileMarker) Acquire(name string) error {
	if name == "" {
		return merr.WrapErrParameterMissing("name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[name] == 0 {
		path := m.Path(name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return merr.WrapErrIoFailed(path, err)
		}
		if err := f.Close(); err != nil {
			return merr.WrapErrIoFailed(path, err)
		}
	}
	m.held[name]++
	return nil
}

// Release 实现 Marker.Release。
// 对未 Acquire 的 name 调用是无操作。
func (m *FileMarker) Release(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.held[name] {
	case 0:
		return nil
	case 1:
		delete(m.held, name)
		path := m.Path(name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return merr.WrapErrIoFailed(path, err)
		}
		return nil
	default:
		m.held[name]--
		return nil
	}
}

// Held 实现 Marker.Held，以文件是否存在为准。
func (m *FileMarker) Held(name string) bool {
	_, err := os.Stat(m.Path(name))
	return err == nil
}

// Nop 不记录任何标记。
type Nop struct{}

var _ Marker = Nop{}

func (Nop) Acquire(string) error { return nil }
func (Nop) Release(string) error { return nil }
func (Nop) Held(string) bool     { return false }
