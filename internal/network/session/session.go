package session

import (
	"context"
	"net"
)

// Session 抽象了一条面向行的网络会话。
//
// 约定：
//   - 每个 Session 对应一条底层 TCP 连接；
//   - Session ID 使用 64 位无符号整型，由接入层单调分配，在进程内唯一；
//   - 框架层只关心会话本身，不关心用户名、房间等业务概念。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文，会话关闭时 Done() 被触发。
	Context() context.Context

	// RemoteAddr 返回远端地址，主要用于日志记录。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 将一行文本投递到发送队列，行尾换行由发送协程补齐。
	//
	// 行为：
	//   - 不阻塞调用方，队列已满时返回 merr.ErrSendQueueFull；
	//   - 会话已关闭时返回 merr.ErrSessionClosed；
	//   - 同一会话上的多次 Send 按调用顺序写出。
	Send(line string) error

	// Close 关闭会话。
	//
	// 说明：
	//   - 已入队的数据会在一个写超时内尽量刷出，然后关闭底层连接；
	//   - 多次调用是幂等的。
	Close() error
}
