package application

import (
	"time"

	"github.com/lk2023060901/danmu-relay-go/internal/chatlog"
	"github.com/lk2023060901/danmu-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/danmu-relay-go/internal/relay"
)

// Config 是 relayd 的完整配置，对应配置文件的顶层结构。
//
// 每个 key 都可以通过 RELAY_ 前缀的环境变量覆盖，例如
// server.max-sessions 对应 RELAY_SERVER_MAX_SESSIONS。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chatlog   chatlog.Config  `mapstructure:"chatlog"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	MaxSessions   int           `mapstructure:"max-sessions"`
	Rooms         int           `mapstructure:"rooms"`
	ReadTimeout   time.Duration `mapstructure:"read-timeout"`
	WriteTimeout  time.Duration `mapstructure:"write-timeout"`
	SendQueueSize int           `mapstructure:"send-queue-size"`
	RecvQueueSize int           `mapstructure:"recv-queue-size"`
	MaxLineSize   int           `mapstructure:"max-line-size"`
	// BindAttempts 为监听失败时的最大尝试次数。
	BindAttempts uint `mapstructure:"bind-attempts"`
}

// PresenceConfig 为登录标记文件的目录，留空表示不创建标记。
type PresenceConfig struct {
	Dir string `mapstructure:"dir"`
}

// RateLimitConfig 为每个会话的聊天限速，Rate 为 0 表示不限速。
type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// MetricsConfig 中 Addr 留空表示不暴露 /metrics。
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ReaperConfig struct {
	Size int `mapstructure:"size"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"server.addr":            ":5100",
		"server.max-sessions":    10,
		"server.rooms":           5,
		"server.read-timeout":    10 * time.Minute,
		"server.write-timeout":   10 * time.Second,
		"server.send-queue-size": 256,
		"server.recv-queue-size": 64,
		"server.max-line-size":   1024,
		"server.bind-attempts":   5,
		"chatlog.dir":            "./chatlog",
		"chatlog.max-size":       100,
		"chatlog.max-backups":    0,
		"presence.dir":           "./presence",
		"ratelimit.rate":         20,
		"ratelimit.burst":        40,
		"metrics.addr":           "",
		"reaper.size":            8,
	}
}

func (c Config) hubConfig() relay.Config {
	return relay.Config{
		MaxSessions:    c.Server.MaxSessions,
		Rooms:          c.Server.Rooms,
		SendQueueSize:  c.Server.SendQueueSize,
		WriteTimeout:   c.Server.WriteTimeout,
		IdleTimeout:    c.Server.ReadTimeout,
		RateLimit:      c.RateLimit.Rate,
		RateBurst:      c.RateLimit.Burst,
		ReaperPoolSize: c.Reaper.Size,
	}
}

func (c Config) acceptorConfig() acceptor.Config {
	return acceptor.Config{
		RecvQueueSize: c.Server.RecvQueueSize,
		ReadTimeout:   c.Server.ReadTimeout,
		MaxLineSize:   c.Server.MaxLineSize,
	}
}
