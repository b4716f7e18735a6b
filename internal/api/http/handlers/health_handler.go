package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	checks      map[string]Pinger
}

type dependencyStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// NewHealthHandler builds the probe handler. checks maps a dependency name to its probe.
func NewHealthHandler(serviceName, version string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, checks: checks}
}

// Live reports that the process is serving.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready probes every dependency in parallel under a shared deadline.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	statuses := h.probe(ctx)
	ready := true
	for _, s := range statuses {
		if s.Status != "ok" {
			ready = false
			break
		}
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": statuses,
		})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": statuses,
		},
	})
}

func (h *HealthHandler) probe(ctx context.Context) map[string]dependencyStatus {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = make(map[string]dependencyStatus, len(h.checks))
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check Pinger) {
			defer wg.Done()
			start := time.Now()
			err := check.Ping(ctx)
			s := dependencyStatus{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				s.Status = "unavailable"
				s.Error = err.Error()
			}
			mu.Lock()
			statuses[name] = s
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return statuses
}
