package framer

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, f *LineFramer) []string {
	t.Helper()
	var lines []string
	for {
		line, err := f.ReadFrame()
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestReadFrameLines(t *testing.T) {
	f := NewLineFramer(strings.NewReader("hello\r\nworld\n\nlast"), 0)
	assert.Equal(t, []string{"hello", "world", "", "last"}, readAll(t, f))
}

func TestReadFrameTruncatesLongLine(t *testing.T) {
	long := strings.Repeat("a", 40)
	f := NewLineFramer(strings.NewReader(long+"\nnext\n"), 16)
	assert.Equal(t, []string{strings.Repeat("a", 16), "next"}, readAll(t, f))
}

func TestReadFrameExactLimit(t *testing.T) {
	exact := strings.Repeat("b", 16)
	f := NewLineFramer(strings.NewReader(exact+"\r\n"+exact+"\n"), 16)
	assert.Equal(t, []string{exact, exact}, readAll(t, f))
}

func TestReadFrameTruncationKeepsValidUTF8(t *testing.T) {
	// 每个字符 3 字节，截断点落在第 4 个字符中间。
	line := strings.Repeat("界", 10)
	f := NewLineFramer(strings.NewReader(line+"\n"), 10)
	got := readAll(t, f)
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("界", 3), got[0])
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, "a"))
	require.NoError(t, WriteLine(&buf, "b\n"))
	f := NewLineFramer(nil, 0)
	require.NoError(t, f.WriteFrame(&buf, "c"))
	assert.Equal(t, "a\nb\nc\n", buf.String())
}
