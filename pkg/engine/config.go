package engine

// DefaultMaxTurns bounds a conversation when neither Config nor Options
// set a limit.
const DefaultMaxTurns = 5

// Config holds coordinator defaults.
type Config struct {
	// MaxTurns is the default turn limit for GenerateWithTools. Zero or
	// negative means DefaultMaxTurns.
	MaxTurns int
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return c.MaxTurns
}
