package chatlog

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Sink 是聊天记录的追加写入与检索接口。
type Sink interface {
	// Append 追加一行，行尾换行由实现补齐。并发调用之间互不交叉。
	Append(line string) error

	// Search 在当天的日志（含轮转备份）中查找匹配 pattern 的行，按写入顺序返回。
	Search(pattern string) ([]string, error)

	Close() error
}

// Config 描述按日期切分的文件日志。
type Config struct {
	// Dir 为日志目录，文件名为 chatlog_YYYYMMDD.log。
	Dir string `mapstructure:"dir"`
	// MaxSize 为单个文件的最大大小，单位 MB，超过后由 lumberjack 轮转。
	MaxSize int `mapstructure:"max-size"`
	// MaxBackups 为同一天内最多保留的轮转文件数。
	MaxBackups int `mapstructure:"max-backups"`
}

const (
	filePrefix     = "chatlog_"
	fileDateLayout = "20060102"
	fileSuffix     = ".log"

	defaultMaxSize = 100
	maxScanLine    = 1 << 20
)

// FileSink 将聊天记录写入按日期命名的文件。
//
// 每次写入前检查日期，跨天时关闭旧文件并切换到新文件。
// 一把互斥锁串行化写入与检索，保证检索看到的都是完整行。
type FileSink struct {
	log.Binder

	cfg Config
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *lumberjack.Logger
}

var _ Sink = (*FileSink)(nil)

// NewFileSink 创建目录并返回一个 FileSink。
func NewFileSink(cfg Config) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, merr.WrapErrParameterMissing("chatlog.dir")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(cfg.Dir, err)
	}
	return &FileSink{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// PathFor 返回 t 当天的日志文件路径。
func (s *FileSink) PathFor(t time.Time) string {
	return filepath.Join(s.cfg.Dir, filePrefix+t.Format(fileDateLayout)+fileSuffix)
}

// Append 实现 Sink.Append。
func (s *FileSink) Append(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.writerLocked()
	n, err := w.Write([]byte(line))
	if err != nil {
		metrics.ChatlogIOFailure.Inc()
		return merr.WrapErrIoFailed(w.Filename, err)
	}
	metrics.ChatlogAppends.Inc()
	metrics.ChatlogAppendBytes.Add(float64(n))
	return nil
}

// writerLocked 返回当天的 writer，必要时切换文件。调用方需持有 mu。
func (s *FileSink) writerLocked() *lumberjack.Logger {
	day := s.now().Format(fileDateLayout)
	if s.file != nil && s.day == day {
		return s.file
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.Logger().Warn("close previous chat log failed", zap.String("file", s.file.Filename), zap.Error(err))
		}
		metrics.ChatlogRotations.Inc()
	}
	s.day = day
	s.file = &lumberjack.Logger{
		Filename:   filepath.Join(s.cfg.Dir, filePrefix+day+fileSuffix),
		MaxSize:    s.cfg.MaxSize,
		MaxBackups: s.cfg.MaxBackups,
		LocalTime:  true,
	}
	s.Logger().Info("chat log opened", zap.String("file", s.file.Filename))
	return s.file
}

// Search 实现 Sink.Search。
//
// pattern 两侧的引号会被去掉，按正则表达式匹配；不是合法正则时按字面量匹配。
// 检索范围是当天的日志文件及其被 lumberjack 轮转出的备份，按写入先后返回。
// 当天还没有日志文件时返回空结果。
func (s *FileSink) Search(pattern string) ([]string, error) {
	match, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	metrics.ChatlogSearches.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.dayFilesLocked(s.now())
	if err != nil {
		return nil, err
	}
	var result []string
	for _, path := range paths {
		result, err = searchFile(path, match, result)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// dayFilesLocked 返回 t 当天的备份文件与当前文件。
// 备份名为 chatlog_YYYYMMDD-<轮转时间>.log，时间格式按字典序即时间序。
func (s *FileSink) dayFilesLocked(t time.Time) ([]string, error) {
	live := s.PathFor(t)
	base := strings.TrimSuffix(live, fileSuffix)
	backups, err := filepath.Glob(base + "-*" + fileSuffix)
	if err != nil {
		return nil, merr.WrapErrIoFailed(base, err)
	}
	sort.Strings(backups)
	return append(backups, live), nil
}

func searchFile(path string, match func(string) bool, result []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, merr.WrapErrIoFailed(path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for scanner.Scan() {
		if line := scanner.Text(); match(line) {
			result = append(result, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, merr.WrapErrIoFailed(path, err)
	}
	return result, nil
}

// Close 实现 Sink.Close。
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Unquote 去掉 pattern 两侧成对的单引号或双引号。
func Unquote(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	if len(pattern) >= 2 {
		first, last := pattern[0], pattern[len(pattern)-1]
		if (first == '"' || first == '\'') && first == last {
			return pattern[1 : len(pattern)-1]
		}
	}
	return pattern
}

func compilePattern(pattern string) (func(string) bool, error) {
	pattern = Unquote(pattern)
	if pattern == "" {
		return nil, merr.WrapErrParameterMissing("pattern", "grep needs a pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return func(line string) bool { return strings.Contains(line, pattern) }, nil
	}
	return re.MatchString, nil
}

// Nop 丢弃所有写入，检索总是返回空结果。
type Nop struct{}

var _ Sink = Nop{}

func (Nop) Append(string) error { return nil }

func (Nop) Search(pattern string) ([]string, error) {
	if _, err := compilePattern(pattern); err != nil {
		return nil, err
	}
	return nil, nil
}

func (Nop) Close() error { return nil }
