package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

type fixedOrPercent struct {
	Fixed int `json:"fixed"`
}

type updatePolicy struct {
	Type              string          `json:"type"`
	MinimalAction     string          `json:"minimalAction"`
	ReplacementMethod string          `json:"replacementMethod"`
	MaxSurge          *fixedOrPercent `json:"maxSurge,omitempty"`
	MaxUnavailable    *fixedOrPercent `json:"maxUnavailable"`
}

type autoHealingPolicy struct {
	HealthCheck     string `json:"healthCheck"`
	InitialDelaySec int    `json:"initialDelaySec"`
}

type preservedDisk struct {
	AutoDelete string `json:"autoDelete"`
}

type statefulPolicy struct {
	PreservedState struct {
		Disks map[string]preservedDisk `json:"disks"`
	} `json:"preservedState"`
}

type namedPort struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

type instanceGroupManager struct {
	Name                string               `json:"name,omitempty"`
	Description         string               `json:"description,omitempty"`
	BaseInstanceName    string               `json:"baseInstanceName,omitempty"`
	TargetSize          *int                 `json:"targetSize,omitempty"`
	InstanceTemplate    string               `json:"instanceTemplate,omitempty"`
	NamedPorts          []namedPort          `json:"namedPorts,omitempty"`
	AutoHealingPolicies []*autoHealingPolicy `json:"autoHealingPolicies,omitempty"`
	UpdatePolicy        *updatePolicy        `json:"updatePolicy,omitempty"`
	StatefulPolicy      *statefulPolicy      `json:"statefulPolicy,omitempty"`
}

func (g *GCP) groupToGoogle(
	gr atlantean.InstanceGroup,
) (*instanceGroupManager, error) {
	desc, err := stampDescription(gr)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	size := gr.TargetSize
	mgr := &instanceGroupManager{
		Name:             gr.Name,
		Description:      desc,
		BaseInstanceName: gr.BaseInstanceName,
		TargetSize:       &size,
		InstanceTemplate: g.globalLink("instanceTemplates",
			gr.TemplateName),
		UpdatePolicy: &updatePolicy{
			Type:              "PROACTIVE",
			MinimalAction:     "REPLACE",
			ReplacementMethod: "SUBSTITUTE",
			MaxSurge:          &fixedOrPercent{Fixed: gr.MaxSurge},
			MaxUnavailable: &fixedOrPercent{
				Fixed: gr.MaxUnavailable,
			},
		},
	}
	for _, np := range gr.NamedPorts {
		mgr.NamedPorts = append(mgr.NamedPorts, namedPort{
			Name: np.Name,
			Port: np.Port,
		})
	}
	if gr.HealthCheckName != "" {
		mgr.AutoHealingPolicies = []*autoHealingPolicy{{
			HealthCheck: g.globalLink("healthChecks",
				gr.HealthCheckName),
			InitialDelaySec: gr.InitialDelaySec,
		}}
	}
	if len(gr.StatefulDiskDevices) > 0 {
		sp := &statefulPolicy{}
		sp.PreservedState.Disks = make(map[string]preservedDisk,
			len(gr.StatefulDiskDevices))
		for _, dev := range gr.StatefulDiskDevices {
			sp.PreservedState.Disks[dev] = preservedDisk{
				AutoDelete: "NEVER",
			}
		}
		mgr.StatefulPolicy = sp
	}
	return mgr, nil
}

func (g *GCP) CreateGroup(
	ctx context.Context,
	log *slog.Logger,
	gr atlantean.InstanceGroup,
) error {
	log.Info("creating group", slog.String("name", gr.Name))

	reqData, err := g.groupToGoogle(gr)
	if err != nil {
		return fmt.Errorf("group to google: %w", err)
	}
	path := fmt.Sprintf("/zones/%s/instanceGroupManagers", g.zone)
	err = g.mutate(ctx, log, http.MethodPost, path, gr.Name,
		"create group", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// UpdateGroup patches the mutable group fields. The replica itself is only
// touched when the template pointer moves.
func (g *GCP) UpdateGroup(
	ctx context.Context,
	log *slog.Logger,
	gr atlantean.InstanceGroup,
) error {
	log.Info("updating group", slog.String("name", gr.Name))

	reqData, err := g.groupToGoogle(gr)
	if err != nil {
		return fmt.Errorf("group to google: %w", err)
	}
	reqData.Name = ""
	path := fmt.Sprintf("/zones/%s/instanceGroupManagers/%s", g.zone,
		gr.Name)
	err = g.mutate(ctx, log, http.MethodPatch, path, gr.Name,
		"update group", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// SetGroupTemplate points the group at a new template. With a proactive
// update policy the group rolls the replica onto it immediately.
func (g *GCP) SetGroupTemplate(
	ctx context.Context,
	log *slog.Logger,
	group, template string,
) error {
	log.Info("rolling group to template",
		slog.String("group", group),
		slog.String("template", template))

	link := g.globalLink("instanceTemplates", template)
	reqData := struct {
		InstanceTemplate string `json:"instanceTemplate"`
	}{InstanceTemplate: link}
	path := fmt.Sprintf("/zones/%s/instanceGroupManagers/%s", g.zone,
		group)
	err := g.mutate(ctx, log, http.MethodPatch, path, group,
		"set group template", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteGroup(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting group", slog.String("name", name))

	path := fmt.Sprintf("/zones/%s/instanceGroupManagers/%s", g.zone,
		name)
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete group", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// getGroup reads back the group for snapshots; nil means absent. The second
// return is the bare name of the template the group currently runs.
func (g *GCP) getGroup(
	ctx context.Context,
	log *slog.Logger,
	name string,
) (*atlantean.ResourceState, string, error) {
	path := fmt.Sprintf("/zones/%s/instanceGroupManagers/%s", g.zone,
		name)
	var respData struct {
		Name             string `json:"name"`
		Description      string `json:"description"`
		InstanceTemplate string `json:"instanceTemplate"`
		SelfLink         string `json:"selfLink"`
	}
	err := g.get(ctx, log, path, &respData)
	switch {
	case errors.Is(err, errNotFound):
		return nil, "", nil
	case err != nil:
		return nil, "", fmt.Errorf("get %s: %w", path, err)
	}
	rs := &atlantean.ResourceState{
		Name:        respData.Name,
		Fingerprint: parseDescription(respData.Description),
		SelfLink:    respData.SelfLink,
	}
	return rs, lastPathSegment(respData.InstanceTemplate), nil
}
