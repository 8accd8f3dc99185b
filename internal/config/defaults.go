package config

import (
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SUPPORTCHAT_CHANNEL_URL.
const EnvPrefix = "SUPPORTCHAT"

func setDefaults(v *viper.Viper) {
	// Channel
	v.SetDefault("channel.url", "ws://localhost:5000/chathub")
	v.SetDefault("channel.role", "customer")
	v.SetDefault("channel.handshake_timeout", 10*time.Second)
	v.SetDefault("channel.reconnect_initial", 500*time.Millisecond)
	v.SetDefault("channel.reconnect_max_interval", 30*time.Second)
	v.SetDefault("channel.reconnect_max_elapsed", 5*time.Minute)
	v.SetDefault("channel.ping_interval", 25*time.Second)
	v.SetDefault("channel.read_timeout", 60*time.Second)
	v.SetDefault("channel.write_timeout", 5*time.Second)
	v.SetDefault("channel.invoke_timeout", 10*time.Second)
	v.SetDefault("channel.buffer_size", 100)
	v.SetDefault("channel.event_buffer", 256)

	// REST
	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.timeout", 15*time.Second)

	v.SetDefault("directory.poll_interval", 30*time.Second)

	v.SetDefault("typing.debounce", 2*time.Second)
	v.SetDefault("typing.visibility", 3*time.Second)

	v.SetDefault("limits.messages_per_minute", 100)

	// Archive
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./data/supportchat.db")

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
