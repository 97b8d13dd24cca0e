package application

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-relay-go/internal/chatlog"
	"github.com/lk2023060901/danmu-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/danmu-relay-go/internal/presence"
	"github.com/lk2023060901/danmu-relay-go/internal/relay"
	zlog "github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/retry"
	zviper "github.com/lk2023060901/danmu-relay-go/pkg/util/viper"
)

const (
	envPrefix         = "RELAY"
	envConfigFilePath = "RELAY_CONFIG_FILE_PATH"
	defaultConfigPath = "./config.yaml"

	metricsShutdownTimeout = 5 * time.Second
)

// Application 是 relayd 的运行时容器，负责加载配置、初始化日志并管理各组件的生命周期。
type Application struct {
	args []string
	in   io.Reader
	out  io.Writer

	cfg     *zviper.Config
	conf    Config
	loggers map[string]*zlog.MLogger

	ready chan struct{}
	addr  string
}

// Option 用于定制 Application。
type Option func(a *Application)

// WithArgs 指定命令行参数，默认使用 os.Args[1:]。
func WithArgs(args []string) Option {
	return func(a *Application) {
		a.args = args
	}
}

// WithConsole 指定控制台的输入输出，默认使用标准输入输出。
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *Application) {
		a.in = in
		a.out = out
	}
}

// New creates a new Application instance.
func New(opts ...Option) *Application {
	a := &Application{
		args:  os.Args[1:],
		in:    os.Stdin,
		out:   os.Stdout,
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 启动聊天中继，阻塞直至 ctx 取消、控制台输入 exit 或出现致命错误。
//
// 配置文件路径优先级：
//  1. 默认 ./config.yaml，不存在时只使用默认值与环境变量；
//  2. 环境变量 RELAY_CONFIG_FILE_PATH；
//  3. 命令行 --config <path> 或 --config=<path>。
func (a *Application) Run(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := cfg.Unmarshal(&a.conf); err != nil {
		return errors.Wrap(err, "decode config")
	}

	if err := a.initLogging(); err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	undo, err := maxprocs.Set(maxprocs.Logger(zlog.S().Infof))
	if err != nil {
		zlog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	metrics.Register(prometheus.DefaultRegisterer)
	return a.serve(ctx)
}

// Config returns the decoded configuration.
func (a *Application) Config() Config {
	return a.conf
}

// Ready 在监听成功后关闭。
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr 返回实际监听地址，Ready 之前为空。
func (a *Application) Addr() string {
	select {
	case <-a.ready:
		return a.addr
	default:
		return ""
	}
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

func (a *Application) serve(ctx context.Context) error {
	conf := a.conf

	var sink chatlog.Sink = chatlog.Nop{}
	if conf.Chatlog.Dir != "" {
		fs, err := chatlog.NewFileSink(conf.Chatlog)
		if err != nil {
			return err
		}
		a.bindLogger(fs, "chatlog", zlog.FieldComponent("chatlog"))
		sink = fs
	}
	defer func() {
		if err := sink.Close(); err != nil {
			zlog.Warn("failed to close chat log", zap.Error(err))
		}
	}()

	var marker presence.Marker = presence.Nop{}
	if conf.Presence.Dir != "" {
		fm, err := presence.NewFileMarker(conf.Presence.Dir)
		if err != nil {
			return err
		}
		marker = fm
	}

	hub, err := relay.NewHub(conf.hubConfig(), sink, marker)
	if err != nil {
		return err
	}
	defer hub.Close()
	a.bindLogger(hub, "relay", zlog.FieldModule("relay"), zlog.FieldComponent("hub"))

	admin := relay.NewAdmin(hub, sink)
	a.bindLogger(admin, "relay", zlog.FieldModule("relay"), zlog.FieldComponent("admin"))

	var acc *acceptor.BaseAcceptor[*relay.Client]
	err = retry.Do(ctx, func() error {
		var err error
		acc, err = acceptor.NewTCPAcceptor[*relay.Client](conf.Server.Addr, conf.acceptorConfig())
		if err != nil {
			zlog.Warn("failed to listen, retrying", zap.String("addr", conf.Server.Addr), zap.Error(err))
		}
		return err
	}, retry.Attempts(conf.Server.BindAttempts), retry.Sleep(200*time.Millisecond), retry.MaxSleepTime(2*time.Second))
	if err != nil {
		return errors.Wrapf(err, "listen on %s", conf.Server.Addr)
	}
	a.bindLogger(acc, "network", zlog.FieldModule("network"), zlog.FieldComponent("acceptor"))

	a.addr = acc.Addr().String()
	close(a.ready)
	zlog.Info("relay listening",
		zap.String("addr", a.addr),
		zap.Int("maxSessions", conf.Server.MaxSessions),
		zap.Int("rooms", conf.Server.Rooms))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acc.Serve(gctx, hub)
	})
	g.Go(func() error {
		return admin.Run(gctx, a.in, a.out)
	})
	if conf.Metrics.Addr != "" {
		srv := &http.Server{Addr: conf.Metrics.Addr, Handler: newMetricsMux()}
		g.Go(func() error {
			zlog.Info("metrics listening", zap.String("addr", conf.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return merr.WrapErrIoFailed(conf.Metrics.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, merr.ErrShutdownRequested) {
		zlog.Info("relay stopped by operator")
		return nil
	}
	if err == nil || errors.Is(err, context.Canceled) {
		zlog.Info("relay stopped")
		return nil
	}
	return err
}

func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	return mux
}

// bindLogger 将配置中名为 name 的模块日志绑定到组件上，未配置时保留组件自己的日志。
func (a *Application) bindLogger(b zlog.LoggerBinder, name string, fields ...zap.Field) {
	lg, ok := a.loggers[name]
	if !ok || lg == nil {
		return
	}
	b.SetLogger(lg.With(fields...))
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(envConfigFilePath); envPath != "" {
		configPath = envPath
		explicit = true
	}

	args := a.args
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, merr.WrapErrParameterMissing("--config", "missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New()
	cfg.SetDefaults(defaultSettings())
	cfg.BindEnv(envPrefix)

	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on RELAY_LOG_* env vars.
//
// Priority:
//   - RELAY_LOG_ENABLE: "0"/"false" discards all output (default true).
//   - RELAY_LOG_LEVEL: log level (default "info").
//   - RELAY_LOG_STDOUT: whether to log to stdout (default false, stdout belongs to the console).
//   - RELAY_LOG_FILE_DIR: log directory (default "./logs").
//   - RELAY_LOG_FILE: log file name (default "relayd.log", empty means no file).
//   - RELAY_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := zlog.GetenvBool("RELAY_LOG_ENABLE", true)

	cfg := &zlog.Config{
		Level:               zlog.GetenvDefault("RELAY_LOG_LEVEL", "info"),
		Format:              zlog.GetenvDefault("RELAY_LOG_FORMAT", zlog.FormatText),
		Stdout:              zlog.GetenvBool("RELAY_LOG_STDOUT", false),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: zlog.GetenvDefault("RELAY_LOG_FILE_DIR", "./logs"),
			Filename: zlog.GetenvDefault("RELAY_LOG_FILE", "relayd.log"),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}
	if cfg.File.Filename != "" && cfg.File.RootPath != "" {
		if err := os.MkdirAll(cfg.File.RootPath, 0o755); err != nil {
			return merr.WrapErrIoFailed(cfg.File.RootPath, err)
		}
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  relay:
//	    level: debug
//	    stdout: false
//	    file:
//	      rootpath: ./logs
//	      filename: relay.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		if cfgCopy.Level == "" {
			cfgCopy.Level = "info"
		}
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}

	return nil
}
