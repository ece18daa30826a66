package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

// getGlobal reads one global resource's name, stamped fingerprint and self
// link; nil means absent.
func (g *GCP) getGlobal(
	ctx context.Context,
	log *slog.Logger,
	resource, name string,
) (*atlantean.ResourceState, error) {
	path := fmt.Sprintf("/global/%s/%s", resource, name)
	var respData struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		SelfLink    string `json:"selfLink"`
	}
	err := g.get(ctx, log, path, &respData)
	switch {
	case errors.Is(err, errNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return &atlantean.ResourceState{
		Name:        respData.Name,
		Fingerprint: parseDescription(respData.Description),
		SelfLink:    respData.SelfLink,
	}, nil
}

func (g *GCP) getAddress(
	ctx context.Context,
	log *slog.Logger,
	name string,
) (*atlantean.ResourceState, string, error) {
	path := "/global/addresses/" + name
	var respData struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Address     string `json:"address"`
		SelfLink    string `json:"selfLink"`
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
	return rs, respData.Address, nil
}

// listCertificates returns deployed certificates sharing the prefix.
func (g *GCP) listCertificates(
	ctx context.Context,
	log *slog.Logger,
	prefix string,
) ([]atlantean.ResourceState, error) {
	const path = "/global/sslCertificates"
	var respData struct {
		Items []struct {
			Name     string `json:"name"`
			SelfLink string `json:"selfLink"`
		} `json:"items"`
	}
	if err := g.get(ctx, log, path, &respData); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	var out []atlantean.ResourceState
	for _, item := range respData.Items {
		if !strings.HasPrefix(item.Name, prefix) {
			continue
		}
		out = append(out, atlantean.ResourceState{
			Name:     item.Name,
			SelfLink: item.SelfLink,
		})
	}
	return out, nil
}

// Snapshot reads back every resource the deployment declares. Absent
// resources come back as nil pointers and plan as creates.
func (g *GCP) Snapshot(
	ctx context.Context,
	log *slog.Logger,
	d *atlantean.Deployment,
) (atlantean.State, error) {
	var state atlantean.State

	if d.DataDisk != nil {
		disk, err := g.getDisk(ctx, log, d.DataDisk.Name)
		if err != nil {
			return state, fmt.Errorf("get disk: %w", err)
		}
		if disk != nil {
			sizeGB, err := strconv.Atoi(disk.SizeGB)
			if err != nil {
				return state, fmt.Errorf("disk size: %w", err)
			}
			state.Disk = &atlantean.ResourceState{
				Name:        disk.Name,
				Fingerprint: parseDescription(disk.Description),
				SelfLink:    disk.SelfLink,
			}
			state.DiskSizeGB = sizeGB
		}
	}

	templates, err := g.listTemplates(ctx, log, d.Template.Name+"-")
	if err != nil {
		return state, fmt.Errorf("list templates: %w", err)
	}
	state.Templates = templates

	group, groupTemplate, err := g.getGroup(ctx, log, d.Group.Name)
	if err != nil {
		return state, fmt.Errorf("get group: %w", err)
	}
	state.Group = group
	state.GroupTemplate = groupTemplate

	state.TCPCheck, err = g.getGlobal(ctx, log, "healthChecks",
		d.TCPCheck.Name)
	if err != nil {
		return state, fmt.Errorf("get tcp check: %w", err)
	}
	if d.HTTPCheck != nil {
		state.HTTPCheck, err = g.getGlobal(ctx, log, "healthChecks",
			d.HTTPCheck.Name)
		if err != nil {
			return state, fmt.Errorf("get http check: %w", err)
		}
	}

	state.Firewall, err = g.getGlobal(ctx, log, "firewalls",
		d.HealthFirewall.Name)
	if err != nil {
		return state, fmt.Errorf("get firewall: %w", err)
	}
	if d.EgressRoute != nil {
		state.Route, err = g.getGlobal(ctx, log, "routes",
			d.EgressRoute.Name)
		if err != nil {
			return state, fmt.Errorf("get route: %w", err)
		}
	}

	state.Address, state.AddressIP, err = g.getAddress(ctx, log,
		d.Address.Name)
	if err != nil {
		return state, fmt.Errorf("get address: %w", err)
	}

	state.Certificates, err = g.listCertificates(ctx, log,
		d.Certificate.Name+"-")
	if err != nil {
		return state, fmt.Errorf("list certificates: %w", err)
	}

	state.Backend, err = g.getGlobal(ctx, log, "backendServices",
		d.Backend.Name)
	if err != nil {
		return state, fmt.Errorf("get backend: %w", err)
	}
	state.URLMap, err = g.getGlobal(ctx, log, "urlMaps", d.URLMap.Name)
	if err != nil {
		return state, fmt.Errorf("get url map: %w", err)
	}
	if d.RedirectURLMap != nil {
		state.RedirectURLMap, err = g.getGlobal(ctx, log, "urlMaps",
			d.RedirectURLMap.Name)
		if err != nil {
			return state, fmt.Errorf("get redirect url map: %w",
				err)
		}
	}

	state.HTTPSProxy, err = g.getGlobal(ctx, log, "targetHttpsProxies",
		d.HTTPSProxy.Name)
	if err != nil {
		return state, fmt.Errorf("get https proxy: %w", err)
	}
	if d.HTTPProxy != nil {
		state.HTTPProxy, err = g.getGlobal(ctx, log,
			"targetHttpProxies", d.HTTPProxy.Name)
		if err != nil {
			return state, fmt.Errorf("get http proxy: %w", err)
		}
	}

	state.HTTPSRule, err = g.getGlobal(ctx, log, "forwardingRules",
		d.HTTPSRule.Name)
	if err != nil {
		return state, fmt.Errorf("get https rule: %w", err)
	}
	if d.HTTPRule != nil {
		state.HTTPRule, err = g.getGlobal(ctx, log, "forwardingRules",
			d.HTTPRule.Name)
		if err != nil {
			return state, fmt.Errorf("get http rule: %w", err)
		}
	}
	return state, nil
}
