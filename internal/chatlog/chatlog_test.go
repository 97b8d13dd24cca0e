package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

func newTestSink(t *testing.T) (*FileSink, *time.Time) {
	t.Helper()
	sink, err := NewFileSink(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	clock := time.Date(2024, 9, 15, 23, 59, 0, 0, time.Local)
	sink.now = func() time.Time { return clock }
	return sink, &clock
}

func TestAppendAndSearch(t *testing.T) {
	sink, clock := newTestSink(t)

	require.NoError(t, sink.Append("[alice]: hello world"))
	require.NoError(t, sink.Append("[bob]: hi alice\n"))
	require.NoError(t, sink.Append("[server]: maintenance at noon"))

	data, err := os.ReadFile(sink.PathFor(*clock))
	require.NoError(t, err)
	assert.Equal(t, "[alice]: hello world\n[bob]: hi alice\n[server]: maintenance at noon\n", string(data))
	assert.Contains(t, sink.PathFor(*clock), "chatlog_20240915.log")

	lines, err := sink.Search(`"alice"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"[alice]: hello world", "[bob]: hi alice"}, lines)

	lines, err = sink.Search(`'^\[server\]'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"[server]: maintenance at noon"}, lines)

	// 非法正则按字面量匹配。
	lines, err = sink.Search("[bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"[bob]: hi alice"}, lines)

	lines, err = sink.Search("nobody")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestSearchEmptyPattern(t *testing.T) {
	sink, _ := newTestSink(t)
	_, err := sink.Search(`""`)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	_, err = Nop{}.Search(" ")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestSearchBeforeFirstAppend(t *testing.T) {
	sink, _ := newTestSink(t)
	lines, err := sink.Search("anything")
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestDateRollover(t *testing.T) {
	sink, clock := newTestSink(t)

	require.NoError(t, sink.Append("before midnight"))
	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, sink.Append("after midnight"))

	lines, err := sink.Search("midnight")
	require.NoError(t, err)
	assert.Equal(t, []string{"after midnight"}, lines)

	data, err := os.ReadFile(sink.PathFor(clock.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "before midnight\n", string(data))
}

func TestSearchIncludesRotatedBackups(t *testing.T) {
	sink, clock := newTestSink(t)

	require.NoError(t, sink.Append("[alice]: first"))
	require.NoError(t, sink.file.Rotate())
	require.NoError(t, sink.Append("[alice]: second"))

	// 前一天的备份不在检索范围内。
	other := filepath.Join(sink.cfg.Dir, "chatlog_20240914-2024-09-14T10-00-00.000.log")
	require.NoError(t, os.WriteFile(other, []byte("[alice]: yesterday\n"), 0o644))

	backups, err := filepath.Glob(filepath.Join(sink.cfg.Dir, "chatlog_20240915-*.log"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	lines, err := sink.Search("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"[alice]: first", "[alice]: second"}, lines)

	data, err := os.ReadFile(sink.PathFor(*clock))
	require.NoError(t, err)
	assert.Equal(t, "[alice]: second\n", string(data))
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	sink, _ := newTestSink(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, sink.Append(fmt.Sprintf("[w%d]: message %d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	lines, err := sink.Search(`^\[w[0-9]\]: message [0-9]+$`)
	require.NoError(t, err)
	assert.Len(t, lines, 400)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "hello", Unquote(`"hello"`))
	assert.Equal(t, "hello", Unquote(`'hello'`))
	assert.Equal(t, `"hello'`, Unquote(`"hello'`))
	assert.Equal(t, `"`, Unquote(` " `))
}

func TestNewFileSinkValidation(t *testing.T) {
	_, err := NewFileSink(Config{})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
