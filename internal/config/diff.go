package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: database
// connection settings and the completion provider require a process
// restart, so they are deliberately excluded here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EngineChanged      bool
	NewLeaseTTLSeconds int
	NewMaxRetries      int
	NewRecentTurns     int

	OutboxChanged bool
	NewOutbox     OutboxConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine != new.Engine {
		d.EngineChanged = true
		d.NewLeaseTTLSeconds = new.Engine.LeaseTTLSeconds
		d.NewMaxRetries = new.Engine.MaxConflictRetries
		d.NewRecentTurns = new.Engine.RecentTurnsLimit
	}

	if old.Outbox != new.Outbox {
		d.OutboxChanged = true
		d.NewOutbox = new.Outbox
	}

	return d
}
