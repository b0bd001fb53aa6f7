package journal

import (
	"errors"
	"time"
)

// Config holds presence journal settings. An empty Path disables the journal.
type Config struct {
	Path            string
	Retention       time.Duration
	QueueSize       int
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the journal defaults. The journal is off until a
// path is configured.
func DefaultConfig() Config {
	return Config{
		Retention:       24 * time.Hour,
		QueueSize:       1024,
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
	}
}

// Enabled reports whether a database path is configured.
func (c Config) Enabled() bool {
	return c.Path != ""
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Retention <= 0 {
		return errors.New("journal retention must be greater than 0")
	}
	if c.QueueSize <= 0 {
		return errors.New("journal queue size must be greater than 0")
	}
	if c.MaxConnections <= 0 {
		return errors.New("journal max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("journal connection max lifetime must be greater than 0")
	}
	return nil
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them.
func (c Config) dsn() string {
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
}
