package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

type tcpHealthCheck struct {
	Port int `json:"port"`
}

type httpHealthCheck struct {
	Port        int    `json:"port"`
	RequestPath string `json:"requestPath"`
}

type healthCheck struct {
	Name               string           `json:"name,omitempty"`
	Description        string           `json:"description,omitempty"`
	Type               string           `json:"type"`
	CheckIntervalSec   int              `json:"checkIntervalSec"`
	TimeoutSec         int              `json:"timeoutSec"`
	HealthyThreshold   int              `json:"healthyThreshold"`
	UnhealthyThreshold int              `json:"unhealthyThreshold"`
	TCPHealthCheck     *tcpHealthCheck  `json:"tcpHealthCheck,omitempty"`
	HTTPHealthCheck    *httpHealthCheck `json:"httpHealthCheck,omitempty"`
}

func healthCheckToGoogle(hc atlantean.HealthCheck) (*healthCheck, error) {
	desc, err := stampDescription(hc)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	out := &healthCheck{
		Name:               hc.Name,
		Description:        desc,
		Type:               hc.Type,
		CheckIntervalSec:   hc.IntervalSec,
		TimeoutSec:         hc.TimeoutSec,
		HealthyThreshold:   hc.HealthyThreshold,
		UnhealthyThreshold: hc.UnhealthyThreshold,
	}
	switch hc.Type {
	case "TCP":
		out.TCPHealthCheck = &tcpHealthCheck{Port: hc.Port}
	case "HTTP":
		out.HTTPHealthCheck = &httpHealthCheck{
			Port:        hc.Port,
			RequestPath: hc.RequestPath,
		}
	default:
		return nil, fmt.Errorf("unknown type %q", hc.Type)
	}
	return out, nil
}

func (g *GCP) CreateHealthCheck(
	ctx context.Context,
	log *slog.Logger,
	hc atlantean.HealthCheck,
) error {
	log.Info("creating health check", slog.String("name", hc.Name))

	reqData, err := healthCheckToGoogle(hc)
	if err != nil {
		return fmt.Errorf("health check to google: %w", err)
	}
	const path = "/global/healthChecks"
	err = g.mutate(ctx, log, http.MethodPost, path, hc.Name,
		"create health check", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) UpdateHealthCheck(
	ctx context.Context,
	log *slog.Logger,
	hc atlantean.HealthCheck,
) error {
	log.Info("updating health check", slog.String("name", hc.Name))

	reqData, err := healthCheckToGoogle(hc)
	if err != nil {
		return fmt.Errorf("health check to google: %w", err)
	}
	reqData.Name = ""
	path := "/global/healthChecks/" + hc.Name
	err = g.mutate(ctx, log, http.MethodPatch, path, hc.Name,
		"update health check", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteHealthCheck(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting health check", slog.String("name", name))

	path := "/global/healthChecks/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete health check", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}
