package types

import (
	"context"
	"time"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

type HealthManager interface {
	LifecycleManager
	RegisterChecker(name string, checker HealthChecker)
	Check(ctx context.Context) HealthReport
}

// HealthChecker checks one component. Name, LastCheck and Duration are
// filled in by the manager.
type HealthChecker func(ctx context.Context) HealthCheck

type HealthCheck struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Duration  time.Duration `json:"duration"`
}

type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Service   ServiceInfo            `json:"service"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

type ServiceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

// Add counts one check result.
func (s *HealthSummary) Add(status HealthStatus) {
	s.Total++
	switch status {
	case StatusHealthy:
		s.Healthy++
	case StatusUnhealthy:
		s.Unhealthy++
	default:
		s.Unknown++
	}
}

// Status is unhealthy if any check failed, unknown if any check could not
// tell, healthy otherwise.
func (s HealthSummary) Status() HealthStatus {
	switch {
	case s.Unhealthy > 0:
		return StatusUnhealthy
	case s.Unknown > 0:
		return StatusUnknown
	default:
		return StatusHealthy
	}
}
