package acceptor

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/danmu-relay-go/internal/network"
	"github.com/lk2023060901/danmu-relay-go/internal/network/framer"
	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// BaseAcceptor 是 Acceptor 接口的基础 TCP 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：接受连接、驱动按行读取并回调 Handler；
//   - 每个连接使用独立的 goroutine 串行处理消息，保证同一会话上 Handler 串行执行。
type BaseAcceptor[S session.Session] struct {
	log.Binder

	ln  net.Listener
	cfg Config

	closeOnce sync.Once
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor[session.Session] = (*BaseAcceptor[session.Session])(nil)

// NewBaseAcceptor 使用已有的 Listener 创建一个基础接入器。
//
// cfg 中为零的字段使用默认值。
func NewBaseAcceptor[S session.Session](ln net.Listener, cfg Config) (*BaseAcceptor[S], error) {
	if ln == nil {
		return nil, merr.WrapErrParameterMissing("listener")
	}
	def := defaultConfig()
	if cfg.RecvQueueSize <= 0 {
		cfg.RecvQueueSize = def.RecvQueueSize
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = def.MaxLineSize
	}
	return &BaseAcceptor[S]{
		ln:  ln,
		cfg: cfg,
	}, nil
}

// NewTCPAcceptor 在给定地址上监听 TCP，并创建一个基础接入器。
//
// 地址被占用等监听失败以 merr.ErrIoFailed 返回，调用方可按需重试。
func NewTCPAcceptor[S session.Session](addr string, cfg Config) (*BaseAcceptor[S], error) {
	if addr == "" {
		return nil, merr.WrapErrParameterMissing("addr")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, merr.WrapErrIoFailed(addr, err)
	}
	return NewBaseAcceptor[S](ln, cfg)
}

// Addr 实现 Acceptor.Addr。
func (a *BaseAcceptor[S]) Addr() net.Addr {
	return a.ln.Addr()
}

// Serve 实现 Acceptor.Serve。
//
// ctx 取消时关闭 listener 并返回 nil；Serve 返回前会等待所有连接协程退出，
// 连接协程会因 ctx 取消而关闭各自的会话。
func (a *BaseAcceptor[S]) Serve(ctx context.Context, h Handler[S]) error {
	if h == nil {
		return merr.WrapErrParameterMissing("handler")
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	retry := newAcceptBackoff()
	logger := a.Logger().With(zap.Stringer("addr", a.ln.Addr()))
	logger.Info("acceptor serving")

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			// 若上层已取消，则将错误视为正常退出。
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("acceptor stopped")
				return nil
			}

			if !isTemporary(err) {
				return merr.WrapErrIoFailed(a.ln.Addr().String(), err)
			}

			// 文件描述符耗尽等情况按指数退避后继续接受新连接。
			delay := retry.NextBackOff()
			logger.RatedWarn(1, "accept failed, backing off", zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		retry.Reset()

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			a.handleConnection(ctx, conn, h)
		}(conn)
	}
}

// Close 实现 Acceptor.Close。
func (a *BaseAcceptor[S]) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.ln.Close()
	})
	return err
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 调用 Handler.OnAccept 创建会话，失败则直接关闭连接；
//  2. 调用 Handler.OnConnected；
//  3. 读协程循环按行读取，将结果投递到 per-session 行队列；
//  4. 在当前协程中按顺序从队列中取出行，并回调 Handler.OnMessage；
//  5. 读失败或对端断开后，调用 Handler.OnClosed。
func (a *BaseAcceptor[S]) handleConnection(ctx context.Context, conn net.Conn, h Handler[S]) {
	sess, err := h.OnAccept(ctx, conn)
	if err != nil {
		_ = conn.Close()
		h.OnError(sess, network.StageAccept, err)
		return
	}

	// 服务停止时关闭会话，读协程随之退出。
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	h.OnConnected(sess)

	var cause error
	defer func() {
		h.OnClosed(sess, cause)
	}()

	// per-session 行队列：读协程负责投递，当前协程顺序消费。
	lines := make(chan string, a.cfg.RecvQueueSize)
	sessCtx := sess.Context()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		cause = a.readLoop(sessCtx, sess, conn, h, lines)
		close(lines)
	}()

	// 顺序消费，确保同一会话上的业务 Handler 串行执行。
	for line := range lines {
		h.OnMessage(sess, line)
	}

	// 等待读协程退出。
	wg.Wait()
}

// readLoop 持续从连接中按行读取，将结果写入 lines 通道。
//
// 返回值：
//   - 非 nil error 表示读取过程中发生的错误（包括 OnTimeout 返回的错误）；
//   - nil 表示正常结束（对端关闭连接或会话已被关闭）。
func (a *BaseAcceptor[S]) readLoop(ctx context.Context, sess S, conn net.Conn, h Handler[S], lines chan<- string) error {
	f := framer.NewLineFramer(conn, a.cfg.MaxLineSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if a.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}

		line, err := f.ReadFrame()
		if err != nil {
			// EOF/连接关闭视为正常断开。
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}

			// 超时错误交由 OnTimeout 决定是否结束会话。
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if terr := h.OnTimeout(sess); terr != nil {
					return terr
				}
				continue
			}

			// 其他错误交由 OnError 处理，并结束会话。
			h.OnError(sess, network.StageRecv, err)
			return errors.Mark(err, network.ErrRecvFailed)
		}

		select {
		case lines <- line:
		case <-ctx.Done():
			return nil
		}
	}
}

func newAcceptBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	// 永不放弃，直到 listener 被关闭。
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// isTemporary 判断 Accept 错误是否可以通过等待恢复。
func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET)
}
