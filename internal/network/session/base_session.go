package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-relay-go/internal/network/framer"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Config 描述单个会话的发送侧配置。
//
// 说明：
//   - SendQueueSize 为发送队列容量，队列满时 Send 立即失败；
//   - WriteTimeout 为单次刷写的超时时间，为 0 表示不设置 deadline。
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
}

// defaultSendQueueSize 为每个会话的发送队列容量。
const defaultSendQueueSize = 256

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - 封装最小但完整的会话能力：ID、Context、地址信息、发送与关闭；
//   - 发送路径只在独立的发送协程中执行，避免多 goroutine 并发写 conn 导致的行交叉；
//   - 业务在自定义会话中嵌入 BaseSession，并按需覆写 Close。
type BaseSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn net.Conn
	cfg  Config

	remoteAddr net.Addr
	localAddr  net.Addr

	// sendQueue 为待发送行的 FIFO 队列。
	//   - Send 仅负责非阻塞地投递；
	//   - sendLoop 按顺序取出并写入 conn。
	sendQueue chan string

	closed    atomic.Bool
	closeOnce sync.Once
	// done 在发送协程退出且连接关闭后被关闭。
	done     chan struct{}
	closeErr error
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// NewBaseSession 创建一个基于 net.Conn 的基础 Session 实例。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，应由调用侧保证唯一；
//   - conn  ：底层网络连接；
//   - cfg   ：发送侧配置。
func NewBaseSession(parent context.Context, id uint64, conn net.Conn, cfg Config) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)

	s := &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		cfg:        cfg,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendQueue:  make(chan string, cfg.SendQueueSize),
		done:       make(chan struct{}),
	}

	go s.sendLoop()

	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() uint64 {
	return s.id
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Conn 返回底层连接，供接入层读取。
func (s *BaseSession) Conn() net.Conn {
	return s.conn
}

// Closed 判断会话是否已经开始关闭。
func (s *BaseSession) Closed() bool {
	return s.closed.Load()
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(line string) error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id)
	}
	select {
	case s.sendQueue <- line:
		return nil
	default:
		return merr.WrapErrSendQueueFull(s.id, cap(s.sendQueue))
	}
}

// Close 实现 Session.Close。
//
// 先取消上下文，发送协程会在一个写超时内刷出已入队的行，然后关闭连接。
// Close 等待这一过程结束后返回。
func (s *BaseSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	<-s.done
	return s.closeErr
}

// Done 在连接真正关闭后返回的通道被关闭。
func (s *BaseSession) Done() <-chan struct{} {
	return s.done
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出待发送行，写入带缓冲的 writer；
//   - 队列暂时为空时才 flush，连续的多行合并为一次系统调用；
//   - 写失败视为会话异常，取消上下文并关闭连接，读协程随之退出。
func (s *BaseSession) sendLoop() {
	w := bufio.NewWriter(s.conn)
	defer func() {
		s.closed.Store(true)
		s.cancel()
		s.closeErr = s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.drain(w)
			return
		case line := <-s.sendQueue:
			if err := s.write(w, line); err != nil {
				return
			}
		}
	}
}

func (s *BaseSession) write(w *bufio.Writer, line string) error {
	if err := framer.WriteLine(w, line); err != nil {
		return err
	}
	if len(s.sendQueue) > 0 {
		return nil
	}
	s.setWriteDeadline()
	return w.Flush()
}

// drain 在关闭前刷出队列中剩余的行，整体受一个写超时约束。
func (s *BaseSession) drain(w *bufio.Writer) {
	s.setWriteDeadline()
	for {
		select {
		case line := <-s.sendQueue:
			if err := framer.WriteLine(w, line); err != nil {
				return
			}
		default:
			_ = w.Flush()
			return
		}
	}
}

func (s *BaseSession) setWriteDeadline() {
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
}
