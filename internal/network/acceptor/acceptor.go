package acceptor

import (
	"context"
	"net"
	"time"

	network "github.com/lk2023060901/danmu-relay-go/internal/network"
	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
)

// Config 描述 Acceptor 在读取侧的配置。
//
// 说明：
//   - RecvQueueSize 控制每个连接已读未处理的行数上限；
//   - ReadTimeout 为两次收到数据之间允许的最长空闲时间，为 0 表示不设置 deadline；
//   - MaxLineSize 为单行最大字节数，超长部分被截断。
type Config struct {
	RecvQueueSize int
	ReadTimeout   time.Duration
	MaxLineSize   int
}

// 默认配置。
func defaultConfig() Config {
	return Config{
		RecvQueueSize: 64,
		MaxLineSize:   1024,
	}
}

// Handler 由框架使用者实现，用于在服务器侧的各个阶段插入自定义逻辑。
//
// 说明：
//   - S 为业务会话类型，通常嵌入 *session.BaseSession；
//   - 同一会话上的 OnConnected、OnMessage、OnClosed 在同一个协程中串行调用；
//   - 回调应避免长时间阻塞，否则会拖慢该连接的读取。
type Handler[S session.Session] interface {
	// OnAccept 为新连接创建会话。
	//
	// 返回错误时接入层直接关闭连接，例如会话数已达上限。
	OnAccept(ctx context.Context, conn net.Conn) (S, error)

	// OnConnected 在会话创建成功后被调用一次。
	OnConnected(sess S)

	// OnMessage 在读出完整一行后被调用，line 不含行尾。
	OnMessage(sess S, line string)

	// OnClosed 在会话生命周期结束时被调用。
	//
	// 参数 err 为关闭原因，对端正常断开时为 nil。
	OnClosed(sess S, err error)

	// OnError 在会话处理的各个阶段发生错误时被调用。
	//
	// stage 用于标识错误发生的位置；StageAccept 阶段 sess 为零值。
	OnError(sess S, stage network.Stage, err error)

	// OnTimeout 在读超时时被调用，返回非 nil 时结束该会话。
	OnTimeout(sess S) error
}

// Acceptor 抽象了服务器侧的 TCP 接入层。
//
// 职责：
//   - 在 listener 上接受连接；
//   - 为每个连接创建会话，并调用 Handler 的各阶段回调；
//   - ctx 取消时关闭 listener，并等待所有连接协程退出。
type Acceptor[S session.Session] interface {
	// Serve 启动接入循环，阻塞直至 ctx 取消或出现致命错误。
	Serve(ctx context.Context, h Handler[S]) error

	// Addr 返回实际监听地址。
	Addr() net.Addr

	// Close 关闭 listener，已建立的连接不受影响。
	Close() error
}
