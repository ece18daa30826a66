package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

type diskEncryption struct {
	KMSKeyName string `json:"kmsKeyName,omitempty"`
}

type gdisk struct {
	Name              string          `json:"name"`
	SizeGB            string          `json:"sizeGb,omitempty"`
	Type              string          `json:"type,omitempty"`
	Description       string          `json:"description,omitempty"`
	DiskEncryptionKey *diskEncryption `json:"diskEncryptionKey,omitempty"`
	SelfLink          string          `json:"selfLink,omitempty"`
}

func (g *GCP) CreateDisk(
	ctx context.Context,
	log *slog.Logger,
	d atlantean.Disk,
) error {
	log.Info("creating disk", slog.String("name", d.Name))

	desc, err := stampDescription(d)
	if err != nil {
		return fmt.Errorf("stamp description: %w", err)
	}
	reqData := &gdisk{
		Name:        d.Name,
		SizeGB:      strconv.Itoa(d.SizeGB),
		Type:        g.zoneLink("diskTypes", d.Type),
		Description: desc,
	}
	if d.KMSKey != "" {
		reqData.DiskEncryptionKey = &diskEncryption{
			KMSKeyName: d.KMSKey,
		}
	}
	path := fmt.Sprintf("/zones/%s/disks", g.zone)
	err = g.mutate(ctx, log, http.MethodPost, path, d.Name,
		"create disk", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// ResizeDisk grows the disk in place. The API rejects shrinks, and the
// planner never asks for one.
func (g *GCP) ResizeDisk(
	ctx context.Context,
	log *slog.Logger,
	name string,
	sizeGB int,
) error {
	log.Info("resizing disk",
		slog.String("name", name),
		slog.Int("sizeGB", sizeGB))

	reqData := struct {
		SizeGB string `json:"sizeGb"`
	}{SizeGB: strconv.Itoa(sizeGB)}
	path := fmt.Sprintf("/zones/%s/disks/%s/resize", g.zone, name)
	err := g.mutate(ctx, log, http.MethodPost, path, name, "resize disk",
		reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteDisk(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting disk", slog.String("name", name))

	path := fmt.Sprintf("/zones/%s/disks/%s", g.zone, name)
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete disk", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// getDisk reads back the disk for snapshots; nil means absent.
func (g *GCP) getDisk(
	ctx context.Context,
	log *slog.Logger,
	name string,
) (*gdisk, error) {
	path := fmt.Sprintf("/zones/%s/disks/%s", g.zone, name)
	var d gdisk
	err := g.get(ctx, log, path, &d)
	switch {
	case errors.Is(err, errNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return &d, nil
}
