package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

type firewallAllowed struct {
	IPProtocol string   `json:"IPProtocol"`
	Ports      []string `json:"ports,omitempty"`
}

type firewall struct {
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Network      string            `json:"network"`
	Direction    string            `json:"direction"`
	Allowed      []firewallAllowed `json:"allowed"`
	SourceRanges []string          `json:"sourceRanges"`
	TargetTags   []string          `json:"targetTags,omitempty"`
}

func (g *GCP) firewallToGoogle(f atlantean.Firewall) (*firewall, error) {
	desc, err := stampDescription(f)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	out := &firewall{
		Name:         f.Name,
		Description:  desc,
		Network:      g.networkLink(f.Network),
		Direction:    "INGRESS",
		SourceRanges: f.SourceRanges,
		TargetTags:   f.TargetTags,
	}
	for _, rule := range f.Allowed {
		out.Allowed = append(out.Allowed, firewallAllowed{
			IPProtocol: rule.Protocol,
			Ports:      rule.Ports,
		})
	}
	return out, nil
}

func (g *GCP) CreateFirewall(
	ctx context.Context,
	log *slog.Logger,
	f atlantean.Firewall,
) error {
	log.Info("creating firewall", slog.String("name", f.Name))

	reqData, err := g.firewallToGoogle(f)
	if err != nil {
		return fmt.Errorf("firewall to google: %w", err)
	}
	const path = "/global/firewalls"
	err = g.mutate(ctx, log, http.MethodPost, path, f.Name,
		"create firewall", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) UpdateFirewall(
	ctx context.Context,
	log *slog.Logger,
	f atlantean.Firewall,
) error {
	log.Info("updating firewall", slog.String("name", f.Name))

	reqData, err := g.firewallToGoogle(f)
	if err != nil {
		return fmt.Errorf("firewall to google: %w", err)
	}
	reqData.Name = ""
	path := "/global/firewalls/" + f.Name
	err = g.mutate(ctx, log, http.MethodPatch, path, f.Name,
		"update firewall", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteFirewall(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting firewall", slog.String("name", name))

	path := "/global/firewalls/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete firewall", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

type route struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Network        string `json:"network"`
	DestRange      string `json:"destRange"`
	NextHopGateway string `json:"nextHopGateway"`
	Priority       int    `json:"priority"`
}

func (g *GCP) CreateRoute(
	ctx context.Context,
	log *slog.Logger,
	r atlantean.Route,
) error {
	log.Info("creating route", slog.String("name", r.Name))

	desc, err := stampDescription(r)
	if err != nil {
		return fmt.Errorf("stamp description: %w", err)
	}
	reqData := &route{
		Name:        r.Name,
		Description: desc,
		Network:     g.networkLink(r.Network),
		DestRange:   r.DestRange,
		NextHopGateway: g.globalLink("gateways",
			r.NextHopGateway),
		Priority: r.Priority,
	}
	const path = "/global/routes"
	err = g.mutate(ctx, log, http.MethodPost, path, r.Name,
		"create route", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteRoute(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting route", slog.String("name", name))

	path := "/global/routes/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete route", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}
