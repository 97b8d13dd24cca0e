package relay

import (
	"context"
	"net"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// State 是会话的握手与生命周期状态。
type State int32

const (
	StateAwaitingName State = iota
	StateAwaitingRoom
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingName:
		return "awaiting_name"
	case StateAwaitingRoom:
		return "awaiting_room"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MaxNameLength 为显示名的最大字符数。
const MaxNameLength = 32

// Client 是一个聊天会话。
//
// 名称、房间与状态使用原子变量存储，广播协程与管理端可以无锁读取；
// 状态迁移与销毁由 mu 串行化，销毁恰好生效一次。
type Client struct {
	*session.BaseSession

	hub *Hub
	ref *session.Ref[*Client]

	mu    sync.Mutex
	slot  atomic.Pointer[session.SlotID]
	name  atomic.String
	room  atomic.Uint32
	state atomic.Int32

	markerHeld atomic.Bool
	limiter    *rate.Limiter
}

var _ session.Session = (*Client)(nil)

func newClient(ctx context.Context, hub *Hub, id uint64, conn net.Conn) *Client {
	c := &Client{
		BaseSession: session.NewBaseSession(ctx, id, conn, session.Config{
			SendQueueSize: hub.cfg.SendQueueSize,
			WriteTimeout:  hub.cfg.WriteTimeout,
		}),
		hub: hub,
	}
	if hub.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.cfg.RateLimit), hub.cfg.RateBurst)
	}
	c.state.Store(int32(StateAwaitingName))
	return c
}

// Name 返回显示名，握手第一步完成前为空。
func (c *Client) Name() string {
	return c.name.Load()
}

// Room 返回所在房间，握手完成前为 NoRoom。
func (c *Client) Room() RoomID {
	return RoomID(c.room.Load())
}

// State 返回当前状态。
func (c *Client) State() State {
	return State(c.state.Load())
}

// Slot 返回会话在注册表中的槽位，插入前为零值。
func (c *Client) Slot() session.SlotID {
	if id := c.slot.Load(); id != nil {
		return *id
	}
	return session.SlotID{}
}

// Close 在服务停止时关闭会话：先发送停服通知，再走统一的销毁流程。
func (c *Client) Close() error {
	if c.State() != StateClosed {
		_ = c.Send(msgShuttingDown)
	}
	c.hub.teardown(c, reasonShutdown)
	return nil
}

// advance 在当前状态为 from 时迁移到 to，会话已关闭时返回 false。
func (c *Client) advance(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != from {
		return false
	}
	c.setStateLocked(to)
	return true
}

// setStateLocked 更新状态与按状态统计的会话数。调用方需持有 mu。
func (c *Client) setStateLocked(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	if from != StateClosed {
		metrics.SessionsActive.WithLabelValues(from.String()).Dec()
	}
	if to != StateClosed {
		metrics.SessionsActive.WithLabelValues(to.String()).Inc()
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// nameProblem 检查显示名：非空、不含控制字符、不超过 MaxNameLength 个字符。
// 合法时返回空串，否则返回原因。
func nameProblem(name string) string {
	switch {
	case name == "":
		return "name must not be empty"
	case !utf8.ValidString(name):
		return "name must be valid UTF-8"
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "name is too long"
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "name must not contain control characters"
	}
	return ""
}

func validateName(name string) error {
	if reason := nameProblem(name); reason != "" {
		return merr.WrapErrNameInvalid(name, reason)
	}
	return nil
}
