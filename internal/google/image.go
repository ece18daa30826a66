package google

import (
	"context"
	"fmt"
	"log/slog"
)

// ResolveImage returns the self link of the newest non-deprecated image in
// the family, pinning the boot image so later family releases don't change
// the template behind our back.
func (g *GCP) ResolveImage(
	ctx context.Context,
	log *slog.Logger,
	project, family string,
) (string, error) {
	path := fmt.Sprintf("%s/projects/%s/global/images/family/%s", g.url,
		project, family)
	var respData struct {
		Name     string `json:"name"`
		SelfLink string `json:"selfLink"`
	}
	if err := g.get(ctx, log, path, &respData); err != nil {
		return "", fmt.Errorf("get %s: %w", path, err)
	}
	log.Debug("resolved image",
		slog.String("family", family),
		slog.String("image", respData.Name))
	return respData.SelfLink, nil
}
