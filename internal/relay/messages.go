package relay

import "fmt"

const serverPrefix = "[server]: "

const (
	msgPromptName   = serverPrefix + "enter your name"
	msgServerFull   = serverPrefix + "server is full"
	msgRateLimited  = serverPrefix + "you are sending too fast, message dropped"
	msgShuttingDown = serverPrefix + "server is shutting down"

	// 踢人与关房通知保持纯文本，客户端按原文匹配。
	msgKicked     = "You have been kicked from the chat."
	msgRoomClosed = "The room has been closed. You have been kicked out."
)

func chatLine(name, text string) string {
	return "[" + name + "]: " + text
}

func serverLine(text string) string {
	return serverPrefix + text
}

func promptRoom(rooms int) string {
	return fmt.Sprintf(serverPrefix+"choose a room (1-%d)", rooms)
}

func welcomeLine(name string, room RoomID) string {
	return fmt.Sprintf(serverPrefix+"welcome %s, you are in room %d", name, room)
}

func joinedLine(name string, room RoomID) string {
	return fmt.Sprintf(serverPrefix+"%s joined room %d", name, room)
}

func leftLine(name string, room RoomID) string {
	return fmt.Sprintf(serverPrefix+"%s left room %d", name, room)
}
