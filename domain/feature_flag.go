package domain

import "time"

// FlagStatus represents the rollout state of a feature flag.
type FlagStatus string

const (
	FlagOff          FlagStatus = "off"
	FlagCanary       FlagStatus = "canary"
	FlagOn           FlagStatus = "on"
	FlagEmergencyOff FlagStatus = "emergency_off"
)

// FeatureFlag is the persisted view of a flag. The rolling metric window
// lives in memory; only the administrative state is stored.
type FeatureFlag struct {
	Name              string     `db:"name" json:"name"`
	Status            FlagStatus `db:"status" json:"status"`
	RolloutPercentage int        `db:"rollout_percentage" json:"rollout_percentage"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
