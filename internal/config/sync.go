package config

import "time"

// SyncConfig controls the real-time synchronization layer: server-side
// stream settings, the Redis relay used to fan events out across
// instances, and the client observer's fallback polling cadence.
type SyncConfig struct {
	Heartbeat          time.Duration
	SubscriberBuffer   int
	RelayEnabled       bool
	ChannelPrefix      string
	ClientGraceDelay   time.Duration
	ClientPollInterval time.Duration
}

// LoadSyncConfig reads SYNC_* variables.
func LoadSyncConfig() SyncConfig {
	cfg := SyncConfig{
		Heartbeat:          envDur("SYNC_HEARTBEAT", 15*time.Second),
		SubscriberBuffer:   envInt("SYNC_SUBSCRIBER_BUFFER", 64),
		RelayEnabled:       envBool("SYNC_RELAY_ENABLED", true),
		ChannelPrefix:      envStr("SYNC_CHANNEL_PREFIX", "lane-events"),
		ClientGraceDelay:   envDur("SYNC_CLIENT_GRACE_DELAY", 3*time.Second),
		ClientPollInterval: envDur("SYNC_CLIENT_POLL_INTERVAL", 2*time.Second),
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	return cfg
}
