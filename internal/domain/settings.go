package domain

import "time"

// Settings bounds. The check frequency ranges from 10 seconds to one month
// (in minutes); the grace period for ended listings from 1 to 30 days.
const (
	MinCheckFrequencyMinutes = 1.0 / 6.0
	MaxCheckFrequencyMinutes = 43200.0

	MinEndedGracePeriodDays     = 1
	MaxEndedGracePeriodDays     = 30
	DefaultEndedGracePeriodDays = 3

	DefaultCheckFrequencyMinutes = 60.0
)

// Settings are the operator-tunable refresh parameters. They are owned by
// the settings store; the engine reads them at the start of every run.
type Settings struct {
	CheckFrequencyMinutes float64 `json:"check_frequency_minutes"`
	EndedGracePeriodDays  int     `json:"ended_grace_period_days"`
	// APIKey optionally overrides the configured inference credential.
	APIKey string `json:"api_key,omitempty"`
}

// DefaultSettings returns Settings populated with the default values.
func DefaultSettings() Settings {
	return Settings{
		CheckFrequencyMinutes: DefaultCheckFrequencyMinutes,
		EndedGracePeriodDays:  DefaultEndedGracePeriodDays,
	}
}

// Clamp forces all fields into their documented bounds, substituting
// defaults for zero values.
func (s *Settings) Clamp() {
	if s.CheckFrequencyMinutes == 0 {
		s.CheckFrequencyMinutes = DefaultCheckFrequencyMinutes
	}
	if s.CheckFrequencyMinutes < MinCheckFrequencyMinutes {
		s.CheckFrequencyMinutes = MinCheckFrequencyMinutes
	}
	if s.CheckFrequencyMinutes > MaxCheckFrequencyMinutes {
		s.CheckFrequencyMinutes = MaxCheckFrequencyMinutes
	}

	if s.EndedGracePeriodDays == 0 {
		s.EndedGracePeriodDays = DefaultEndedGracePeriodDays
	}
	if s.EndedGracePeriodDays < MinEndedGracePeriodDays {
		s.EndedGracePeriodDays = MinEndedGracePeriodDays
	}
	if s.EndedGracePeriodDays > MaxEndedGracePeriodDays {
		s.EndedGracePeriodDays = MaxEndedGracePeriodDays
	}
}

// CheckFrequency returns the check frequency as a duration.
func (s Settings) CheckFrequency() time.Duration {
	return time.Duration(s.CheckFrequencyMinutes * float64(time.Minute))
}
