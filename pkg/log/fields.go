package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSession   = "sessionID"
	FieldNameRoom      = "room"
	FieldNameUser      = "user"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldSessionID 返回会话标识字段。
func FieldSessionID(id uint64) zap.Field {
	return zap.Uint64(FieldNameSession, id)
}

// FieldRoom 返回房间号字段，0 表示尚未选择房间。
func FieldRoom(room uint32) zap.Field {
	return zap.Uint32(FieldNameRoom, room)
}

// FieldUser 返回用户显示名字段。
func FieldUser(name string) zap.Field {
	return zap.String(FieldNameUser, name)
}
