package webhook

// Health status values reported by pipeline components
const (
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusOverloaded  = "overloaded"
	StatusStopped     = "stopped"
	StatusUnderAttack = "under_attack"
)

// Health is one component's self-reported state plus its metrics
type Health struct {
	Status  string         `json:"status"`
	Service string         `json:"service"`
	Details map[string]any `json:"details,omitempty"`
}
