package relay

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-relay-go/internal/chatlog"
	network "github.com/lk2023060901/danmu-relay-go/internal/network"
	"github.com/lk2023060901/danmu-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/internal/presence"
	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/conc"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// 会话结束原因，同时用作指标标签。
const (
	reasonExit         = "exit"
	reasonDisconnect   = "disconnect"
	reasonTimeout      = "timeout"
	reasonError        = "error"
	reasonKicked       = "kicked"
	reasonRoomClosed   = "room_closed"
	reasonSlowConsumer = "slow_consumer"
	reasonShutdown     = "shutdown"
)

// Config 为聊天中继的业务配置。
type Config struct {
	// MaxSessions 为同时在线的会话上限。
	MaxSessions int
	// Rooms 为房间数量，房间号取值 1..Rooms。
	Rooms int
	// SendQueueSize 为每个会话的发送队列长度，写满即视为慢消费者。
	SendQueueSize int
	// WriteTimeout 为单次写出的超时时间。
	WriteTimeout time.Duration
	// IdleTimeout 为客户端允许的最长空闲时间，为 0 表示不限制。
	IdleTimeout time.Duration
	// RateLimit 为每个会话每秒允许的聊天行数，为 0 表示不限速。
	RateLimit float64
	// RateBurst 为限速器的突发容量。
	RateBurst int
	// ReaperPoolSize 为异步回收慢消费者的协程池大小。
	ReaperPoolSize int
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxSessions:    10,
		Rooms:          5,
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
		RateLimit:      20,
		RateBurst:      40,
		ReaperPoolSize: 8,
	}
}

func (c *Config) validate() error {
	if c.MaxSessions <= 0 {
		return merr.WrapErrParameterInvalidMsg("max-sessions must be positive, got %d", c.MaxSessions)
	}
	if c.Rooms <= 0 {
		return merr.WrapErrParameterInvalidMsg("rooms must be positive, got %d", c.Rooms)
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultConfig().SendQueueSize
	}
	if c.ReaperPoolSize <= 0 {
		c.ReaperPoolSize = DefaultConfig().ReaperPoolSize
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return nil
}

// Hub 持有会话注册表，并驱动每个会话的握手与聊天状态机。
//
// Hub 实现 acceptor.Handler，由接入层在每个连接的处理协程中回调。
// 会话从注册表移除先于连接关闭，因此广播方拿到的快照中不会出现
// 已经释放资源的会话。
type Hub struct {
	log.Binder

	cfg      Config
	registry *session.Registry[*Client]
	sink     chatlog.Sink
	marker   presence.Marker
	reaper   *conc.Pool
	nextID   atomic.Uint64
}

var _ acceptor.Handler[*Client] = (*Hub)(nil)

// NewHub 创建 Hub。sink 与 marker 为空时使用不落盘的实现。
func NewHub(cfg Config, sink chatlog.Sink, marker presence.Marker) (*Hub, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = chatlog.Nop{}
	}
	if marker == nil {
		marker = presence.Nop{}
	}
	reaper, err := conc.NewPool(cfg.ReaperPoolSize, conc.WithNonBlocking(true), conc.WithConcealPanic(true))
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:      cfg,
		registry: session.NewRegistry[*Client](cfg.MaxSessions),
		sink:     sink,
		marker:   marker,
		reaper:   reaper,
	}
	h.SetLogger(log.With(log.FieldModule("relay"), log.FieldComponent("hub")).WithRateGroup("relay.hub", 1, 60))
	return h, nil
}

// Config 返回生效的配置。
func (h *Hub) Config() Config {
	return h.cfg
}

// Len 返回注册表中的会话数。
func (h *Hub) Len() int {
	return h.registry.Len()
}

// Close 释放回收协程池，应在接入层退出之后调用。
func (h *Hub) Close() {
	h.reaper.Release()
}

// OnAccept 为新连接创建会话并放入注册表，注册表已满时通知对端后拒绝。
func (h *Hub) OnAccept(ctx context.Context, conn net.Conn) (*Client, error) {
	id := h.nextID.Inc()
	ctx = log.WithSession(ctx, id, conn.RemoteAddr().String())
	c := newClient(ctx, h, id, conn)
	c.ref = session.NewRef(c, h.finalize)

	slot, err := h.registry.InsertWith(c.ref, func(id session.SlotID) { c.slot.Store(&id) })
	if err != nil {
		metrics.SessionsRejected.WithLabelValues("full").Inc()
		log.Ctx(ctx).Info("reject connection", zap.Error(err))
		c.state.Store(int32(StateClosed))
		_ = c.Send(msgServerFull)
		_ = c.BaseSession.Close()
		c.ref.Release()
		return nil, err
	}
	metrics.SessionsAccepted.Inc()
	metrics.SessionsActive.WithLabelValues(StateAwaitingName.String()).Inc()
	log.Ctx(ctx).Debug("session admitted", zap.Stringer("slot", slot))
	return c, nil
}

// OnConnected 向新会话发送名称提示。
func (h *Hub) OnConnected(c *Client) {
	_ = c.Send(msgPromptName)
}

// OnMessage 按会话状态处理一行输入。
func (h *Hub) OnMessage(c *Client, line string) {
	switch c.State() {
	case StateAwaitingName:
		h.handleName(c, line)
	case StateAwaitingRoom:
		h.handleRoom(c, line)
	case StateActive:
		h.handleChat(c, line)
	}
}

// OnClosed 销毁会话并释放接入层持有的引用。
func (h *Hub) OnClosed(c *Client, err error) {
	reason := reasonDisconnect
	switch {
	case err == nil:
	case errors.Is(err, merr.ErrSessionTimeout):
		reason = reasonTimeout
	default:
		reason = reasonError
	}
	h.teardown(c, reason)
	c.ref.Release()
}

// OnError 记录各阶段的网络错误。
func (h *Hub) OnError(c *Client, stage network.Stage, err error) {
	metrics.SessionErrors.WithLabelValues(string(stage)).Inc()
	if c == nil {
		h.Logger().Warn("accept failed", zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	log.Ctx(c.Context()).Warn("session error", zap.String("stage", string(stage)), zap.Error(err))
}

// OnTimeout 空闲超时即结束会话。
func (h *Hub) OnTimeout(c *Client) error {
	_ = c.Send(serverLine("idle timeout, closing connection"))
	return merr.WrapErrSessionTimeout(c.ID(), h.cfg.IdleTimeout)
}

func (h *Hub) handleName(c *Client, line string) {
	name := strings.TrimSpace(line)
	if err := validateName(name); err != nil {
		log.Ctx(c.Context()).Debug("name rejected", zap.Error(err))
		_ = c.Send(serverLine("invalid name, " + nameProblem(name)))
		_ = c.Send(msgPromptName)
		return
	}
	c.name.Store(name)
	if !c.advance(StateAwaitingName, StateAwaitingRoom) {
		return
	}
	if err := h.marker.Acquire(name); err != nil {
		log.Ctx(c.Context()).Warn("failed to create presence marker", zap.String("name", name), zap.Error(err))
	} else {
		c.markerHeld.Store(true)
	}
	_ = c.Send(promptRoom(h.cfg.Rooms))
}

func (h *Hub) handleRoom(c *Client, line string) {
	room, err := ParseRoom(line, h.cfg.Rooms)
	if err != nil {
		_ = c.Send(serverLine("invalid room"))
		_ = c.Send(promptRoom(h.cfg.Rooms))
		return
	}
	c.room.Store(uint32(room))
	if !c.advance(StateAwaitingRoom, StateActive) {
		return
	}
	metrics.RoomMembers.WithLabelValues(room.String()).Inc()
	log.Ctx(c.Context()).Info("session joined room",
		log.FieldUser(c.Name()), log.FieldRoom(uint32(room)))
	_ = c.Send(welcomeLine(c.Name(), room))
	h.notifyRoom(room, c.Slot(), joinedLine(c.Name(), room))
}

func (h *Hub) handleChat(c *Client, line string) {
	switch line {
	case "exit", "...":
		h.releaseMarker(c)
		h.teardown(c, reasonExit)
		return
	case "":
		return
	}
	if !c.allow() {
		metrics.MessagesDropped.WithLabelValues("rate_limited").Inc()
		_ = c.Send(msgRateLimited)
		return
	}
	h.Broadcast(c.Slot(), line, c.Room())
}

// teardown 销毁会话：从注册表移除、关闭连接、标记为 Closed。
// 对同一会话重复调用只有第一次生效，返回值表示本次是否生效。
func (h *Hub) teardown(c *Client, reason string) bool {
	prev, ok := h.closeClient(c)
	if !ok {
		return false
	}
	h.releaseMarker(c)
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	log.Ctx(c.Context()).Info("session closed", zap.String("reason", reason), log.FieldUser(c.Name()))
	if prev == StateActive {
		room := c.Room()
		metrics.RoomMembers.WithLabelValues(room.String()).Dec()
		if reason == reasonRoomClosed {
			return true
		}
		h.notifyRoom(room, c.Slot(), leftLine(c.Name(), room))
	}
	return true
}

func (h *Hub) closeClient(c *Client) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.State()
	if prev == StateClosed {
		return prev, false
	}
	h.registry.Remove(c.Slot())
	_ = c.BaseSession.Close()
	c.setStateLocked(StateClosed)
	return prev, true
}

func (h *Hub) releaseMarker(c *Client) {
	if !c.markerHeld.CompareAndSwap(true, false) {
		return
	}
	if err := h.marker.Release(c.Name()); err != nil {
		log.Ctx(c.Context()).Warn("failed to remove presence marker", log.FieldUser(c.Name()), zap.Error(err))
	}
}

// reap 异步销毁写满发送队列的会话，避免阻塞广播方。
func (h *Hub) reap(c *Client) {
	if !c.ref.Retain() {
		return
	}
	task := func() {
		defer c.ref.Release()
		h.teardown(c, reasonSlowConsumer)
	}
	if err := h.reaper.Submit(task); err != nil {
		go task()
	}
}

// finalize 在最后一个引用释放时调用。
func (h *Hub) finalize(c *Client) {
	_ = c.BaseSession.Close()
	log.Ctx(c.Context()).Debug("session released")
}
