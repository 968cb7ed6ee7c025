package orchestrator

import "time"

// Health reports service liveness for the /health endpoint.
type Health struct {
	serviceName string
	serviceAddr string
	startedAt   time.Time
}

// NewHealth creates a Health anchored at the current time.
func NewHealth(serviceName, serviceAddr string) *Health {
	return &Health{
		serviceName: serviceName,
		serviceAddr: serviceAddr,
		startedAt:   time.Now(),
	}
}

// HealthSnapshot is one point-in-time health reading.
type HealthSnapshot struct {
	Status        string
	ServiceName   string
	ServiceAddr   string
	Timestamp     time.Time
	UptimeSeconds float64
}

// Snapshot returns the current health reading.
func (h *Health) Snapshot() HealthSnapshot {
	now := time.Now()
	return HealthSnapshot{
		Status:        "healthy",
		ServiceName:   h.serviceName,
		ServiceAddr:   h.serviceAddr,
		Timestamp:     now,
		UptimeSeconds: now.Sub(h.startedAt).Seconds(),
	}
}
