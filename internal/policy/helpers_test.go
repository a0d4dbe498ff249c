package policy

import "github.com/harunnryd/tally/internal/config"

func configPolicy(min, max float64, followups int) config.PolicyConfig {
	return config.PolicyConfig{MinHours: min, MaxHours: max, MaxFollowups: followups}
}
