package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
)

func (g *GCP) CreateAddress(
	ctx context.Context,
	log *slog.Logger,
	a atlantean.Address,
) error {
	log.Info("creating address", slog.String("name", a.Name))

	desc, err := stampDescription(a)
	if err != nil {
		return fmt.Errorf("stamp description: %w", err)
	}
	reqData := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		IPVersion   string `json:"ipVersion"`
		AddressType string `json:"addressType"`
	}{
		Name:        a.Name,
		Description: desc,
		IPVersion:   "IPV4",
		AddressType: "EXTERNAL",
	}
	const path = "/global/addresses"
	err = g.mutate(ctx, log, http.MethodPost, path, a.Name,
		"create address", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteAddress(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting address", slog.String("name", name))

	path := "/global/addresses/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete address", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// CreateCertificate provisions a managed certificate. Issuance only
// completes once the domain's DNS points at the global address, so a fresh
// deployment serves TLS some minutes after the first apply.
func (g *GCP) CreateCertificate(
	ctx context.Context,
	log *slog.Logger,
	c atlantean.Certificate,
) error {
	name, err := c.FullName()
	if err != nil {
		return fmt.Errorf("full name: %w", err)
	}
	log.Info("creating certificate", slog.String("name", name))

	reqData := struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Managed struct {
			Domains []string `json:"domains"`
		} `json:"managed"`
	}{
		Name: name,
		Type: "MANAGED",
	}
	reqData.Managed.Domains = c.Domains
	const path = "/global/sslCertificates"
	err = g.mutate(ctx, log, http.MethodPost, path, name,
		"create certificate", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteCertificate(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting certificate", slog.String("name", name))

	path := "/global/sslCertificates/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete certificate", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

type backend struct {
	Group         string `json:"group"`
	BalancingMode string `json:"balancingMode"`
}

type backendService struct {
	Name                string    `json:"name,omitempty"`
	Description         string    `json:"description,omitempty"`
	PortName            string    `json:"portName"`
	Protocol            string    `json:"protocol"`
	TimeoutSec          int       `json:"timeoutSec"`
	LoadBalancingScheme string    `json:"loadBalancingScheme"`
	HealthChecks        []string  `json:"healthChecks"`
	Backends            []backend `json:"backends"`
}

func (g *GCP) backendToGoogle(
	b atlantean.BackendService,
) (*backendService, error) {
	desc, err := stampDescription(b)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	return &backendService{
		Name:                b.Name,
		Description:         desc,
		PortName:            b.PortName,
		Protocol:            b.Protocol,
		TimeoutSec:          b.TimeoutSec,
		LoadBalancingScheme: "EXTERNAL",
		HealthChecks: []string{
			g.globalLink("healthChecks", b.HealthCheckName),
		},
		Backends: []backend{{
			Group:         g.zoneLink("instanceGroups", b.GroupName),
			BalancingMode: "UTILIZATION",
		}},
	}, nil
}

func (g *GCP) CreateBackend(
	ctx context.Context,
	log *slog.Logger,
	b atlantean.BackendService,
) error {
	log.Info("creating backend service", slog.String("name", b.Name))

	reqData, err := g.backendToGoogle(b)
	if err != nil {
		return fmt.Errorf("backend to google: %w", err)
	}
	const path = "/global/backendServices"
	err = g.mutate(ctx, log, http.MethodPost, path, b.Name,
		"create backend service", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) UpdateBackend(
	ctx context.Context,
	log *slog.Logger,
	b atlantean.BackendService,
) error {
	log.Info("updating backend service", slog.String("name", b.Name))

	reqData, err := g.backendToGoogle(b)
	if err != nil {
		return fmt.Errorf("backend to google: %w", err)
	}
	reqData.Name = ""
	path := "/global/backendServices/" + b.Name
	err = g.mutate(ctx, log, http.MethodPatch, path, b.Name,
		"update backend service", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteBackend(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting backend service", slog.String("name", name))

	path := "/global/backendServices/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete backend service", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

type urlRedirect struct {
	HTTPSRedirect        bool   `json:"httpsRedirect"`
	StripQuery           bool   `json:"stripQuery"`
	RedirectResponseCode string `json:"redirectResponseCode"`
}

type urlMap struct {
	Name               string       `json:"name,omitempty"`
	Description        string       `json:"description,omitempty"`
	DefaultService     string       `json:"defaultService,omitempty"`
	DefaultURLRedirect *urlRedirect `json:"defaultUrlRedirect,omitempty"`
}

func (g *GCP) urlMapToGoogle(m atlantean.URLMap) (*urlMap, error) {
	desc, err := stampDescription(m)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	out := &urlMap{
		Name:        m.Name,
		Description: desc,
	}
	if m.HTTPSRedirect {
		out.DefaultURLRedirect = &urlRedirect{
			HTTPSRedirect:        true,
			StripQuery:           false,
			RedirectResponseCode: "MOVED_PERMANENTLY_DEFAULT",
		}
	} else {
		out.DefaultService = g.globalLink("backendServices",
			m.DefaultServiceName)
	}
	return out, nil
}

func (g *GCP) CreateURLMap(
	ctx context.Context,
	log *slog.Logger,
	m atlantean.URLMap,
) error {
	log.Info("creating url map", slog.String("name", m.Name))

	reqData, err := g.urlMapToGoogle(m)
	if err != nil {
		return fmt.Errorf("url map to google: %w", err)
	}
	const path = "/global/urlMaps"
	err = g.mutate(ctx, log, http.MethodPost, path, m.Name,
		"create url map", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) UpdateURLMap(
	ctx context.Context,
	log *slog.Logger,
	m atlantean.URLMap,
) error {
	log.Info("updating url map", slog.String("name", m.Name))

	reqData, err := g.urlMapToGoogle(m)
	if err != nil {
		return fmt.Errorf("url map to google: %w", err)
	}
	reqData.Name = ""
	path := "/global/urlMaps/" + m.Name
	err = g.mutate(ctx, log, http.MethodPatch, path, m.Name,
		"update url map", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteURLMap(
	ctx context.Context,
	log *slog.Logger,
	name string,
) error {
	log.Info("deleting url map", slog.String("name", name))

	path := "/global/urlMaps/" + name
	err := g.mutate(ctx, log, http.MethodDelete, path, name,
		"delete url map", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// proxyResource picks the API collection from whether the proxy terminates
// TLS.
func proxyResource(p atlantean.TargetProxy) string {
	if p.CertificateName != "" {
		return "targetHttpsProxies"
	}
	return "targetHttpProxies"
}

type targetProxy struct {
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	URLMap          string   `json:"urlMap"`
	SSLCertificates []string `json:"sslCertificates,omitempty"`
}

func (g *GCP) proxyToGoogle(p atlantean.TargetProxy) (*targetProxy, error) {
	desc, err := stampDescription(p)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	out := &targetProxy{
		Name:        p.Name,
		Description: desc,
		URLMap:      g.globalLink("urlMaps", p.URLMapName),
	}
	if p.CertificateName != "" {
		out.SSLCertificates = []string{
			g.globalLink("sslCertificates", p.CertificateName),
		}
	}
	return out, nil
}

func (g *GCP) CreateProxy(
	ctx context.Context,
	log *slog.Logger,
	p atlantean.TargetProxy,
) error {
	log.Info("creating proxy", slog.String("name", p.Name))

	reqData, err := g.proxyToGoogle(p)
	if err != nil {
		return fmt.Errorf("proxy to google: %w", err)
	}
	path := "/global/" + proxyResource(p)
	err = g.mutate(ctx, log, http.MethodPost, path, p.Name,
		"create proxy", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

// UpdateProxy repoints the proxy's URL map and, for TLS proxies, its
// certificate set. Certificate rotation lands here: the fingerprinted name
// changes and the proxy patches over to the new certificate.
func (g *GCP) UpdateProxy(
	ctx context.Context,
	log *slog.Logger,
	p atlantean.TargetProxy,
) error {
	log.Info("updating proxy", slog.String("name", p.Name))

	resource := proxyResource(p)
	mapReq := struct {
		URLMap string `json:"urlMap"`
	}{URLMap: g.globalLink("urlMaps", p.URLMapName)}
	path := fmt.Sprintf("/global/%s/%s/setUrlMap", resource, p.Name)
	err := g.mutate(ctx, log, http.MethodPost, path, p.Name,
		"set url map", mapReq)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}

	if p.CertificateName == "" {
		return nil
	}
	certReq := struct {
		SSLCertificates []string `json:"sslCertificates"`
	}{SSLCertificates: []string{
		g.globalLink("sslCertificates", p.CertificateName),
	}}
	path = fmt.Sprintf("/global/%s/%s/setSslCertificates", resource,
		p.Name)
	err = g.mutate(ctx, log, http.MethodPost, path, p.Name,
		"set ssl certificates", certReq)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteProxy(
	ctx context.Context,
	log *slog.Logger,
	p atlantean.TargetProxy,
) error {
	log.Info("deleting proxy", slog.String("name", p.Name))

	path := fmt.Sprintf("/global/%s/%s", proxyResource(p), p.Name)
	err := g.mutate(ctx, log, http.MethodDelete, path, p.Name,
		"delete proxy", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

type forwardingRule struct {
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	IPAddress           string `json:"IPAddress"`
	IPProtocol          string `json:"IPProtocol"`
	PortRange           string `json:"portRange"`
	Target              string `json:"target"`
	LoadBalancingScheme string `json:"loadBalancingScheme"`
}

func (g *GCP) CreateForwardingRule(
	ctx context.Context,
	log *slog.Logger,
	r atlantean.ForwardingRule,
) error {
	log.Info("creating forwarding rule", slog.String("name", r.Name))

	desc, err := stampDescription(r)
	if err != nil {
		return fmt.Errorf("stamp description: %w", err)
	}
	proxyKind := "targetHttpProxies"
	if r.HTTPS {
		proxyKind = "targetHttpsProxies"
	}
	reqData := &forwardingRule{
		Name:                r.Name,
		Description:         desc,
		IPAddress:           g.globalLink("addresses", r.AddressName),
		IPProtocol:          "TCP",
		PortRange:           r.PortRange,
		Target:              g.globalLink(proxyKind, r.ProxyName),
		LoadBalancingScheme: "EXTERNAL",
	}
	const path = "/global/forwardingRules"
	err = g.mutate(ctx, log, http.MethodPost, path, r.Name,
		"create forwarding rule", reqData)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}

func (g *GCP) DeleteForwardingRule(
	ctx context.Context,
	log *slog.Logger,
	r atlantean.ForwardingRule,
) error {
	log.Info("deleting forwarding rule", slog.String("name", r.Name))

	path := "/global/forwardingRules/" + r.Name
	err := g.mutate(ctx, log, http.MethodDelete, path, r.Name,
		"delete forwarding rule", nil)
	if err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}
