package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
	"github.com/rs/xid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var _ atlantean.CloudStore = &GCP{}

// errNotFound reports a 404 from the compute API, so callers can tell
// "absent" apart from "broken".
var errNotFound = errors.New("not found")

// descPrefix marks descriptions the reconciler owns. The fingerprint of the
// resource spec follows it and is read back during snapshots.
const descPrefix = "atlantean:fp:"

// GCP implements atlantean.CloudStore against the compute v1 REST API.
type GCP struct {
	client  *http.Client
	project string
	region  string
	zone    string
	url     string

	// tokenSource overrides per-request default-credential lookup. Tests
	// inject a static source here.
	tokenSource oauth2.TokenSource
}

func NewGCP(
	client *http.Client,
	tokenSource oauth2.TokenSource,
	project, region, zone string,
) (*GCP, error) {
	if project == "" {
		return nil, errors.New("missing project")
	}
	if region == "" {
		return nil, errors.New("missing region")
	}
	if zone == "" {
		return nil, errors.New("missing zone")
	}
	g := &GCP{
		client:      client,
		project:     project,
		region:      region,
		zone:        zone,
		tokenSource: tokenSource,
		url:         "https://compute.googleapis.com/compute/v1",
	}
	return g, nil
}

// stampDescription encodes the spec fingerprint into a description field.
func stampDescription(v any) (string, error) {
	fp, err := atlantean.Fingerprint(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return descPrefix + fp, nil
}

// parseDescription extracts the fingerprint stamped by a prior apply.
// Descriptions written by anything else come back empty, which plans as a
// spec change and restamps them.
func parseDescription(desc string) string {
	if !strings.HasPrefix(desc, descPrefix) {
		return ""
	}
	return strings.TrimPrefix(desc, descPrefix)
}

// lastPathSegment reduces a resource link to its bare name.
func lastPathSegment(link string) string {
	if link == "" {
		return ""
	}
	parts := strings.Split(link, "/")
	return parts[len(parts)-1]
}

func (g *GCP) networkLink(name string) string {
	return fmt.Sprintf("projects/%s/global/networks/%s", g.project, name)
}

func (g *GCP) subnetworkLink(name string) string {
	return fmt.Sprintf("projects/%s/regions/%s/subnetworks/%s",
		g.project, g.region, name)
}

func (g *GCP) zoneLink(resource, name string) string {
	return fmt.Sprintf("projects/%s/zones/%s/%s/%s", g.project, g.zone,
		resource, name)
}

func (g *GCP) globalLink(resource, name string) string {
	return fmt.Sprintf("projects/%s/global/%s/%s", g.project, resource,
		name)
}

// operation is the slice of a compute operation response we care about.
type operation struct {
	SelfLink string `json:"selfLink"`
}

// mutate issues a state-changing request and blocks until the resulting
// operation completes. Every mutation carries a requestId so a retried call
// after a dropped response doesn't run twice.
func (g *GCP) mutate(
	ctx context.Context,
	log *slog.Logger,
	method, path, name, opName string,
	reqData any,
) error {
	var body []byte
	if reqData != nil {
		var err error
		body, err = json.Marshal(reqData)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	path += sep + "requestId=" + xid.New().String()
	byt, err := g.do(ctx, log, method, path, body)
	if err != nil {
		if errors.Is(err, errNotFound) && method == http.MethodDelete {
			return nil
		}
		return fmt.Errorf("do %s: %w", path, err)
	}
	var op operation
	if err := json.Unmarshal(byt, &op); err != nil {
		log.Warn(string(byt),
			slog.String("func", "mutate"),
			slog.String("op", opName))
		return fmt.Errorf("unmarshal: %w", err)
	}
	err = g.pollOperation(ctx, log, op.SelfLink, name, opName)
	if err != nil {
		return fmt.Errorf("poll operation: %w", err)
	}
	return nil
}

// get issues a read, reporting errNotFound for absent resources.
func (g *GCP) get(
	ctx context.Context,
	log *slog.Logger,
	path string,
	out any,
) error {
	byt, err := g.do(ctx, log, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return errNotFound
		}
		return fmt.Errorf("do %s: %w", path, err)
	}
	if err := json.Unmarshal(byt, out); err != nil {
		log.Warn(string(byt), slog.String("func", "get"))
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// pollOperation recursively, returning nil or an error when the operation is
// done.
func (g *GCP) pollOperation(
	ctx context.Context,
	log *slog.Logger,
	path, name, opName string,
) error {
	if path == "" {
		return nil
	}

	log.Debug("polling",
		slog.String("op", opName),
		slog.String("name", name))
	byt, err := g.do(ctx, log, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("do %s: %w", path, err)
	}
	var respData struct {
		Status string `json:"status"`
		Error  *struct {
			Code   int `json:"code"`
			Errors []struct {
				Code     string `json:"code"`
				Location string `json:"location"`
				Message  string `json:"message"`
			} `json:"errors"`
		} `json:"error"`
		HTTPErrorMessage string `json:"httpErrorMessage"`
	}
	if err := json.Unmarshal(byt, &respData); err != nil {
		log.Warn(string(byt),
			slog.String("func", "pollOperation"),
			slog.String("name", name),
			slog.String("op", opName))
		return fmt.Errorf("unmarshal: %w", err)
	}
	if respData.Error != nil {
		// 404s are possible after deletes. It just means the resource
		// we're trying to delete is already gone, usually when a
		// second apply starts while a delete is still in flight.
		switch respData.Error.Code {
		case http.StatusNotFound, http.StatusGone, http.StatusConflict:
			return nil
		}
		var errs []string
		for _, errData := range respData.Error.Errors {
			// Same reasoning as the 404 above. Skip this error if
			// it's our only one.
			if errData.Code == "RESOURCE_NOT_FOUND" {
				continue
			}
			msg := fmt.Sprintf("%s (%s, %s)", errData.Message,
				errData.Location, errData.Code)
			errs = append(errs, msg)
		}
		if len(errs) == 0 {
			return nil
		}
		return fmt.Errorf("errors: %s", strings.Join(errs, ", "))
	}
	if respData.Status != "DONE" {
		time.Sleep(5 * time.Second)
		return g.pollOperation(ctx, log, path, name, opName)
	}
	return nil
}

func (g *GCP) do(
	ctx context.Context,
	log *slog.Logger,
	method, urlPath string,
	body []byte,
) ([]byte, error) {
	urlParsed, err := url.Parse(urlPath)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	var uri string
	if urlParsed.IsAbs() {
		uri = urlPath
	} else {
		uri = fmt.Sprintf("%s/projects/%s%s", g.url, g.project,
			urlPath)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri,
		bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := g.tokenSource
	if ts == nil {
		creds, err := google.FindDefaultCredentials(ctx,
			"https://www.googleapis.com/auth/compute")
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w",
				err)
		}
		ts = creds.TokenSource
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	rsp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do %s: %w", uri, err)
	}
	defer func() { _ = rsp.Body.Close() }()

	byt, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	switch rsp.StatusCode {
	case http.StatusOK, http.StatusGone:
		return byt, nil
	case http.StatusNotFound:
		return byt, fmt.Errorf("%s: %w", uri, errNotFound)
	default:
		log.Warn(string(byt),
			slog.String("uri", uri),
			slog.String("method", method),
			slog.Int("statusCode", rsp.StatusCode))
		return byt, fmt.Errorf("unexpected status code: %d",
			rsp.StatusCode)
	}
}
