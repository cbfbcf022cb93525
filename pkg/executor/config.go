package executor

import (
	"time"

	"github.com/rhuss/toolbridge/pkg/tools"
)

// Unlimited disables the session limit.
const Unlimited = -1

// Config holds admission and bookkeeping limits for an Executor.
type Config struct {
	// ConcurrentLimit caps in-flight executions. Zero or negative means
	// use the default of 3.
	ConcurrentLimit int

	// SessionLimit caps executions since the last Reset. Unlimited (-1)
	// disables the cap; zero means use the default of 25.
	SessionLimit int

	// CallTimeout is passed to every ToolClient.CallTool. Zero means
	// tools.DefaultCallTimeout.
	CallTimeout time.Duration

	// HistoryLimit bounds the retained history entries. Zero or negative
	// means use the default of 100.
	HistoryLimit int
}

func (c Config) concurrentLimit() int {
	if c.ConcurrentLimit <= 0 {
		return 3
	}
	return c.ConcurrentLimit
}

func (c Config) sessionLimit() int {
	switch {
	case c.SessionLimit < 0:
		return Unlimited
	case c.SessionLimit == 0:
		return 25
	}
	return c.SessionLimit
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return tools.DefaultCallTimeout
	}
	return c.CallTimeout
}

func (c Config) historyLimit() int {
	if c.HistoryLimit <= 0 {
		return 100
	}
	return c.HistoryLimit
}
