package registry

import (
	"context"
	"time"
)

// HealthReport is the detailed health result of one service.
type HealthReport struct {
	Name    string        `json:"name"`
	Status  ServiceStatus `json:"status"`
	Healthy bool          `json:"healthy"`

	// Checked is false when the service has no instance yet or does not implement HealthChecker.
	Checked bool `json:"checked"`

	Latency time.Duration `json:"latency_ns"`
}

// HealthCheck returns a healthy flag for every registered service. Constructed
// instances implementing HealthChecker are asked; everything else reports true.
// A panicking check counts as unhealthy.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	reports := r.HealthReports(ctx)
	out := make(map[string]bool, len(reports))
	for _, rep := range reports {
		out[rep.Name] = rep.Healthy
	}
	return out
}

// HealthReports returns detailed health results in registration order.
// Checks stop early when ctx is done; unchecked services then report true.
func (r *Registry) HealthReports(ctx context.Context) []HealthReport {
	names := r.ListServices()
	reports := make([]HealthReport, 0, len(names))

	for _, name := range names {
		rep := HealthReport{Name: name, Status: r.Status(name), Healthy: true}

		instance, ok := r.Instance(name)
		checker, canCheck := instance.(HealthChecker)
		if ok && canCheck && ctx.Err() == nil {
			start := time.Now()
			rep.Healthy = safeHealthCheck(checker)
			rep.Checked = true
			rep.Latency = time.Since(start)
		}

		r.metrics.SetServiceHealth(name, rep.Healthy)
		if !rep.Healthy {
			r.logger.Warn().Str("service", name).Str("status", string(rep.Status)).Msg("Service unhealthy")
		}
		reports = append(reports, rep)
	}

	return reports
}

func safeHealthCheck(checker HealthChecker) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			healthy = false
		}
	}()
	return checker.HealthCheck()
}
