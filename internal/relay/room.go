package relay

import (
	"strconv"
	"strings"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// RoomID 是房间编号，0 表示尚未选择房间。
type RoomID uint32

// NoRoom 表示握手尚未完成的会话所在的“房间”。
const NoRoom RoomID = 0

func (r RoomID) String() string {
	return strconv.FormatUint(uint64(r), 10)
}

// Valid 判断 r 是否落在 1..rooms 之间。
func (r RoomID) Valid(rooms int) bool {
	return r >= 1 && int(r) <= rooms
}

// ParseRoom 解析客户端或管理端输入的房间号。
// 只接受十进制数字，范围为 1..rooms。
func ParseRoom(s string, rooms int) (RoomID, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return NoRoom, merr.WrapErrRoomInvalid(s, 1, rooms)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || !RoomID(n).Valid(rooms) {
		return NoRoom, merr.WrapErrRoomInvalid(s, 1, rooms)
	}
	return RoomID(n), nil
}
