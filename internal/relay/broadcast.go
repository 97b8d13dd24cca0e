package relay

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Broadcast 以 "[name]: text" 的形式把一行消息发给 room 内除 origin 外的
// 所有 Active 会话，并写入聊天记录。返回成功入队的接收者数量。
//
// origin 已不在注册表中时消息被丢弃。
func (h *Hub) Broadcast(origin session.SlotID, text string, room RoomID) int {
	ref, ok := h.registry.Lookup(origin)
	if !ok {
		metrics.MessagesDropped.WithLabelValues("origin_gone").Inc()
		return 0
	}
	name := ref.Get().Name()
	ref.Release()

	start := time.Now()
	line := chatLine(name, text)
	metrics.MessagesReceived.Inc()
	h.appendLog(line)
	n := h.deliver(line, func(c *Client) bool {
		return c.State() == StateActive && c.Room() == room && c.Slot() != origin
	})
	metrics.BroadcastLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return n
}

// Announce 以服务器身份向所有未关闭的会话发送一行，不区分房间。
func (h *Hub) Announce(text string) int {
	line := serverLine(text)
	h.appendLog(line)
	return h.deliver(line, func(c *Client) bool {
		return c.State() != StateClosed
	})
}

// notifyRoom 向房间内除 exclude 外的 Active 会话发送系统通知，不写聊天记录。
func (h *Hub) notifyRoom(room RoomID, exclude session.SlotID, line string) int {
	return h.deliver(line, func(c *Client) bool {
		return c.State() == StateActive && c.Room() == room && c.Slot() != exclude
	})
}

// deliver 对注册表快照中满足 match 的会话逐一入队。
// 快照按槽位顺序排列，同一发送方的消息在每个接收方处保持发送顺序。
func (h *Hub) deliver(line string, match func(c *Client) bool) int {
	refs := h.registry.Snapshot()
	defer session.ReleaseAll(refs)

	n := 0
	for _, ref := range refs {
		c := ref.Get()
		if !match(c) {
			continue
		}
		if err := c.Send(line); err != nil {
			h.dropDelivery(c, err)
			continue
		}
		n++
	}
	metrics.Deliveries.Add(float64(n))
	return n
}

func (h *Hub) dropDelivery(c *Client, err error) {
	switch {
	case errors.Is(err, merr.ErrSendQueueFull):
		metrics.MessagesDropped.WithLabelValues("queue_full").Inc()
		h.Logger().RatedWarn(1, "send queue full, dropping slow consumer",
			log.FieldSessionID(c.ID()), zap.Error(err))
		h.reap(c)
	default:
		// 会话正在关闭，由其自身的处理协程完成销毁。
		metrics.MessagesDropped.WithLabelValues("closed").Inc()
	}
}

func (h *Hub) appendLog(line string) {
	if err := h.sink.Append(line); err != nil {
		h.Logger().RatedWarn(10, "failed to append chat log", zap.Error(err))
	}
}

// SessionInfo 描述一个会话在某一时刻的状态。
type SessionInfo struct {
	ID    uint64
	Slot  session.SlotID
	Name  string
	Room  RoomID
	State State
	Addr  string
}

// Sessions 按槽位顺序返回所有未关闭会话的快照。
func (h *Hub) Sessions() []SessionInfo {
	refs := h.registry.Snapshot()
	defer session.ReleaseAll(refs)

	infos := make([]SessionInfo, 0, len(refs))
	for _, ref := range refs {
		c := ref.Get()
		st := c.State()
		if st == StateClosed {
			continue
		}
		info := SessionInfo{
			ID:    c.ID(),
			Slot:  c.Slot(),
			Name:  c.Name(),
			Room:  c.Room(),
			State: st,
		}
		if addr := c.RemoteAddr(); addr != nil {
			info.Addr = addr.String()
		}
		infos = append(infos, info)
	}
	return infos
}

// RoomCounts 返回 1..Rooms 每个房间中 Active 会话的数量。
func (h *Hub) RoomCounts() []int {
	active := lo.Filter(h.Sessions(), func(info SessionInfo, _ int) bool {
		return info.State == StateActive && info.Room.Valid(h.cfg.Rooms)
	})
	counts := make([]int, h.cfg.Rooms)
	for room, n := range lo.CountValuesBy(active, func(info SessionInfo) RoomID { return info.Room }) {
		counts[room-1] = n
	}
	return counts
}

// KickByName 踢出第一个显示名为 name 的会话，返回是否找到。
func (h *Hub) KickByName(name string) bool {
	refs := h.registry.Snapshot()
	defer session.ReleaseAll(refs)

	for _, ref := range refs {
		c := ref.Get()
		if c.State() == StateClosed || c.State() == StateAwaitingName || c.Name() != name {
			continue
		}
		_ = c.Send(msgKicked)
		return h.teardown(c, reasonKicked)
	}
	return false
}

// CloseRoom 踢出 room 中所有 Active 会话，返回被踢出的数量。
func (h *Hub) CloseRoom(room RoomID) int {
	refs := h.registry.Snapshot()
	defer session.ReleaseAll(refs)

	n := 0
	for _, ref := range refs {
		c := ref.Get()
		if c.State() != StateActive || c.Room() != room {
			continue
		}
		_ = c.Send(msgRoomClosed)
		if h.teardown(c, reasonRoomClosed) {
			n++
		}
	}
	return n
}

// Shutdown 通知并关闭所有会话，返回关闭的数量。
func (h *Hub) Shutdown() int {
	refs := h.registry.Snapshot()
	defer session.ReleaseAll(refs)

	n := 0
	for _, ref := range refs {
		c := ref.Get()
		if c.State() == StateClosed {
			continue
		}
		_ = c.Close()
		n++
	}
	return n
}
