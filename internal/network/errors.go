package network

import "github.com/cockroachdb/errors"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept   Stage = "accept"   // 接受连接并创建会话
	StageRecv     Stage = "recv"     // 从连接读取一行
	StageDispatch Stage = "dispatch" // 行 -> 业务处理
	StageSend     Stage = "send"     // 写出到对端
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串，真正的 error 对象在下面构造。
const (
	ErrCodeAcceptFailed   = "network:accept_failed"
	ErrCodeRecvFailed     = "network:recv_failed"
	ErrCodeDispatchFailed = "network:dispatch_failed"
	ErrCodeSendFailed     = "network:send_failed"
)

var (
	// ErrAcceptFailed 表示接受连接或创建会话失败。
	ErrAcceptFailed = errors.New(ErrCodeAcceptFailed)

	// ErrRecvFailed 表示在读取底层连接数据时发生错误。
	ErrRecvFailed = errors.New(ErrCodeRecvFailed)

	// ErrDispatchFailed 表示在将一行交给业务处理时发生错误。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)
)
