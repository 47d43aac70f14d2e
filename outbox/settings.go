package outbox

import (
	"time"
)

const (
	defaultPollingInterval  time.Duration = time.Second * 3
	defaultMaxItemsPerCycle int           = 100
)

// Settings holds the outbox processor configuration.
type Settings struct {
	PollingInterval  time.Duration // interval between outbox pollings
	MaxItemsPerCycle int           // maximum number of items processed in each cycle
}

// validateSettings sets defaults where needed.
func validateSettings(s *Settings) {
	if s.PollingInterval <= 0 {
		s.PollingInterval = defaultPollingInterval
	}
	if s.MaxItemsPerCycle <= 0 {
		s.MaxItemsPerCycle = defaultMaxItemsPerCycle
	}
}
