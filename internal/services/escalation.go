package services

import "time"

// UrgencyTier classifies how long a ticket has been outstanding.
type UrgencyTier string

const (
	UrgencyNormal   UrgencyTier = "normal"
	UrgencyElevated UrgencyTier = "elevated"
	UrgencyUrgent   UrgencyTier = "urgent"
)

// Rank orders tiers for queue sorting; higher is more urgent.
func (t UrgencyTier) Rank() int {
	switch t {
	case UrgencyUrgent:
		return 2
	case UrgencyElevated:
		return 1
	default:
		return 0
	}
}

// EscalationThresholds holds the two age boundaries between tiers.
// Both bounds are inclusive: a ticket aged exactly Elevated is elevated.
type EscalationThresholds struct {
	Elevated time.Duration
	Urgent   time.Duration
}

// DefaultEscalationThresholds returns the standard 15/20 minute boundaries.
func DefaultEscalationThresholds() EscalationThresholds {
	return EscalationThresholds{
		Elevated: 15 * time.Minute,
		Urgent:   20 * time.Minute,
	}
}

// Urgency computes a ticket's tier from its age at the given instant.
// Urgency is never stored; every queue read and broadcast render recomputes
// it so the displayed tier is always consistent with "now". A viewer that
// never re-polls will not learn a ticket escalated.
func Urgency(createdAt, now time.Time, thresholds EscalationThresholds) UrgencyTier {
	age := now.Sub(createdAt)
	switch {
	case age >= thresholds.Urgent:
		return UrgencyUrgent
	case age >= thresholds.Elevated:
		return UrgencyElevated
	default:
		return UrgencyNormal
	}
}
