package daemon

import (
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/config"
)

func sessionOptions(cfg *config.Config) chat.Options {
	opts := chat.DefaultOptions()
	opts.Conn.BackoffBase = cfg.BackoffBase
	opts.Conn.BackoffMax = cfg.BackoffMax
	opts.Conn.StabilityThreshold = cfg.StabilityThreshold
	opts.Conn.HeartbeatInterval = cfg.HeartbeatInterval
	opts.Conn.PongTimeout = cfg.PongTimeout
	opts.Conn.HandshakeTimeout = cfg.HandshakeTimeout
	opts.Delivery.RetryTimeout = cfg.RetryTimeout
	opts.Delivery.MaxRetries = cfg.MaxRetries
	if cfg.TypingTTL > 0 {
		opts.TypingTTL = cfg.TypingTTL
	}
	return opts
}
