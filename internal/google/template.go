package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type metadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metadata struct {
	Items []metadataItem `json:"items"`
}

type initializeParams struct {
	SourceImage string `json:"sourceImage,omitempty"`
	DiskSizeGB  string `json:"diskSizeGb,omitempty"`
	DiskType    string `json:"diskType,omitempty"`
}

type attachedDisk struct {
	Boot              bool              `json:"boot"`
	AutoDelete        bool              `json:"autoDelete"`
	DeviceName        string            `json:"deviceName,omitempty"`
	Source            string            `json:"source,omitempty"`
	InitializeParams  *initializeParams `json:"initializeParams,omitempty"`
	DiskEncryptionKey *diskEncryption   `json:"diskEncryptionKey,omitempty"`
}

type accessConfig struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type networkInterface struct {
	Network       string          `json:"network"`
	Subnetwork    string          `json:"subnetwork,omitempty"`
	AccessConfigs []*accessConfig `json:"accessConfigs"`
}

type serviceAccount struct {
	Email  string   `json:"email"`
	Scopes []string `json:"scopes,omitempty"`
}

type scheduling struct {
	ProvisioningModel         string `json:"provisioningModel,omitempty"`
	Preemptible               bool   `json:"preemptible,omitempty"`
	AutomaticRestart          *bool  `json:"automaticRestart,omitempty"`
	InstanceTerminationAction string `json:"instanceTerminationAction,omitempty"`
}

type shieldedInstanceConfig struct {
	EnableVTPM                bool `json:"enableVtpm"`
	EnableIntegrityMonitoring bool `json:"enableIntegrityMonitoring"`
}

type instanceProperties struct {
	MachineType            string                  `json:"machineType"`
	Tags                   map[string][]string     `json:"tags,omitempty"`
	Disks                  []*attachedDisk         `json:"disks"`
	NetworkInterfaces      []*networkInterface     `json:"networkInterfaces"`
	ServiceAccounts        []*serviceAccount       `json:"serviceAccounts,omitempty"`
	Scheduling             *scheduling             `json:"scheduling,omitempty"`
	Metadata               *metadata               `json:"metadata,omitempty"`
	ShieldedInstanceConfig *shieldedInstanceConfig `json:"shieldedInstanceConfig,omitempty"`
}

type instanceTemplate struct {
	Name       string             `json:"name"`
	Properties instanceProperties `json:"properties"`
}

// templateToGoogle maps the template spec onto the compute representation.
// The deployed name carries the spec fingerprint, making the template
// immutable in practice: any change lands under a new name.
func (g *GCP) templateToGoogle(
	t atlantean.InstanceTemplate,
) (*instanceTemplate, error) {
	name, err := t.FullName()
	if err != nil {
		return nil, fmt.Errorf("full name: %w", err)
	}

	disks := []*attachedDisk{{
		Boot:       true,
		AutoDelete: true,
		InitializeParams: &initializeParams{
			SourceImage: t.BootImage,
			DiskSizeGB:  fmt.Sprint(t.BootDiskSizeGB),
		},
	}}
	data := &attachedDisk{
		Boot:       false,
		AutoDelete: false,
		DeviceName: t.DataDisk.DeviceName,
	}
	if t.DataDisk.Source != "" {
		data.Source = t.DataDisk.Source
	} else {
		data.InitializeParams = &initializeParams{
			DiskSizeGB: fmt.Sprint(t.DataDisk.SizeGB),
		}
	}
	if t.DataDisk.KMSKey != "" {
		data.DiskEncryptionKey = &diskEncryption{
			KMSKeyName: t.DataDisk.KMSKey,
		}
	}
	disks = append(disks, data)

	// Metadata items are sorted so the rendered body is deterministic.
	keys := maps.Keys(t.Metadata)
	slices.Sort(keys)
	items := make([]metadataItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, metadataItem{Key: k, Value: t.Metadata[k]})
	}

	props := instanceProperties{
		MachineType: t.MachineType,
		Tags:        map[string][]string{"items": t.Tags},
		Disks:       disks,
		NetworkInterfaces: []*networkInterface{{
			Network: g.networkLink(t.Network),
			AccessConfigs: []*accessConfig{{
				Type: "ONE_TO_ONE_NAT",
				Name: "External NAT",
			}},
		}},
		Metadata: &metadata{Items: items},
		ShieldedInstanceConfig: &shieldedInstanceConfig{
			EnableVTPM:                true,
			EnableIntegrityMonitoring: true,
		},
	}
	if t.Subnetwork != "" {
		props.NetworkInterfaces[0].Subnetwork =
			g.subnetworkLink(t.Subnetwork)
	}
	if t.ServiceAccount.Email != "" {
		props.ServiceAccounts = []*serviceAccount{{
			Email:  t.ServiceAccount.Email,
			Scopes: t.ServiceAccount.Scopes,
		}}
	}
	if t.Spot {
		f := false
		props.Scheduling = &scheduling{
			ProvisioningModel:         "SPOT",
			Preemptible:               true,
			AutomaticRestart:          &f,
			InstanceTerminationAction: "STOP",
		}
	}
	return &instanceTemplate{Name: name, Properties: props}, nil
}

func (g *GCP) CreateTemplate(
	ctx context.Context,
	log *slog.Logger,
	t atlantean.InstanceTemplate,
) error {
	reqData, err := g.templateToGoogle(t)
	if err != nil {
		return fmt.Errorf("template to google: %w", err)
	}
	log.Info("creating template", slog.String("name", reqData.Name))

	const path = "/global/instanceTemplates"
	err = g.mutate(ctx, log, http.MethodPost, path, reqData.Name,
		"create template", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteTemplate(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting template", slog.String("name", name))

	path := "/global/instanceTemplates/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete template", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// listTemplates returns deployed templates whose names share the prefix.
func (g *GCP) listTemplates(
	ctx context.Context,
	log *slog.Logger,
	prefix string,
) ([]atlantean.ResourceState, error) {
	const path = "/global/instanceTemplates"
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
