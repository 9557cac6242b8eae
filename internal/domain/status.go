package domain

// Status is the delivery lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusBounced, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// validTransitions enumerates the status lattice. sent→pending covers the
// provider's "deferred" callback.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusFailed, StatusSkipped},
	StatusSent:    {StatusDelivered, StatusBounced, StatusFailed, StatusPending},
}

// CanTransition reports whether from→to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ExternalStatus maps an internal status to the gateway's coarser vocabulary.
func ExternalStatus(s Status) string {
	switch s {
	case StatusSent, StatusDelivered:
		return "delivered"
	case StatusFailed, StatusBounced:
		return "failed"
	default:
		return "pending"
	}
}

// WebhookStatus maps a transport callback event name to a target status.
// Unknown events map to "" and are ignored by the reconciler.
func WebhookStatus(event string) Status {
	switch event {
	case "delivered":
		return StatusDelivered
	case "bounce":
		return StatusBounced
	case "dropped":
		return StatusFailed
	case "deferred":
		return StatusPending
	}
	return ""
}
