package connector

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	network "github.com/lk2023060901/danmu-relay-go/internal/network"
	"github.com/lk2023060901/danmu-relay-go/internal/network/framer"
	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLineSize  int

	// DialTimeout 为单次拨号的超时时间。
	DialTimeout time.Duration
	// MaxDialElapsed 为拨号重试的总时长上限，为 0 时只尝试一次。
	MaxDialElapsed time.Duration
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 64,
		DialTimeout:   5 * time.Second,
	}
}

// Handler 描述客户端在各阶段的回调能力。
//
// OnMessage 与 OnClosed 在同一个接收协程中串行调用。
type Handler interface {
	OnConnected(conn *Conn)
	OnMessage(conn *Conn, line string)
	OnClosed(conn *Conn, err error)
	OnError(conn *Conn, stage network.Stage, err error)
}

// Conn 是客户端侧的一条行协议连接，发送侧复用 session.BaseSession。
type Conn struct {
	*session.BaseSession

	cfg Config
	h   Handler

	closedOnce sync.Once
	finished   chan struct{}
}

// Dial 连接到 addr 并启动接收协程。
//
// MaxDialElapsed 大于 0 时按指数退避重试拨号，直至成功、超时或 ctx 取消。
func Dial(ctx context.Context, addr string, cfg Config, h Handler) (*Conn, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler")
	}
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	raw, err := dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		BaseSession: session.NewBaseSession(ctx, 0, raw, session.Config{
			SendQueueSize: cfg.SendQueueSize,
			WriteTimeout:  cfg.WriteTimeout,
		}),
		cfg:      cfg,
		h:        h,
		finished: make(chan struct{}),
	}
	h.OnConnected(c)
	go c.recvLoop()
	return c, nil
}

func dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	op := func() (net.Conn, error) {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return conn, err
	}
	if cfg.MaxDialElapsed <= 0 {
		conn, err := op()
		if err != nil {
			return nil, merr.WrapErrIoFailed(addr, err)
		}
		return conn, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = cfg.MaxDialElapsed
	conn, err := backoff.RetryWithData(op, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, merr.WrapErrIoFailed(addr, err)
	}
	return conn, nil
}

// Finished 在 OnClosed 返回后关闭。
func (c *Conn) Finished() <-chan struct{} {
	return c.finished
}

func (c *Conn) recvLoop() {
	var cause error
	defer func() {
		_ = c.BaseSession.Close()
		c.closedOnce.Do(func() {
			c.h.OnClosed(c, cause)
			close(c.finished)
		})
	}()

	conn := c.Conn()
	f := framer.NewLineFramer(conn, c.cfg.MaxLineSize)
	ctx := c.Context()
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		line, err := f.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			c.h.OnError(c, network.StageRecv, err)
			cause = errors.Mark(err, network.ErrRecvFailed)
			return
		}
		c.h.OnMessage(c, line)
	}
}
