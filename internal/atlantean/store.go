package atlantean

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPClient returns an HTTP client that doesn't share a global transport.
// The implementation is taken from github.com/hashicorp/go-cleanhttp.
func HTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
				DualStack: true,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   -1,
			DisableKeepAlives:     true,
		},
	}
}

// ResourceState is what the snapshot knows about one deployed resource.
// Fingerprint comes back out of the resource's description field, where the
// reconciler stamps it on create and update.
type ResourceState struct {
	Name        string
	Fingerprint string
	SelfLink    string
}

// State is a point-in-time snapshot of the deployment's resources as they
// exist in the cloud. Nil pointers mean the resource is absent.
type State struct {
	Disk *ResourceState

	// DiskSizeGB of the existing data disk. Disks only grow.
	DiskSizeGB int

	// Templates holds every template sharing the deployment's name
	// prefix. The active one is whichever the group references.
	Templates []ResourceState

	Group *ResourceState

	// GroupTemplate is the template name the group currently runs.
	GroupTemplate string

	TCPCheck  *ResourceState
	HTTPCheck *ResourceState
	Firewall  *ResourceState
	Route     *ResourceState

	Address *ResourceState

	// AddressIP is the provisioned global IP, reported as an output.
	AddressIP string

	// Certificates holds every certificate sharing the deployment's
	// name prefix; rotation leaves the old one in place until the proxy
	// has moved over.
	Certificates []ResourceState

	Backend        *ResourceState
	URLMap         *ResourceState
	RedirectURLMap *ResourceState
	HTTPSProxy     *ResourceState
	HTTPProxy      *ResourceState
	HTTPSRule      *ResourceState
	HTTPRule       *ResourceState
}

// ImageStore resolves boot images.
type ImageStore interface {
	// ResolveImage returns the self link of the newest active image in
	// the family.
	ResolveImage(
		ctx context.Context,
		log *slog.Logger,
		project, family string,
	) (string, error)
}

// DiskStore manages standalone data disks. Disks are never deleted by the
// reconciler; DeleteDisk exists only for forced destroys.
type DiskStore interface {
	CreateDisk(ctx context.Context, log *slog.Logger, d Disk) error
	ResizeDisk(ctx context.Context, log *slog.Logger, name string, sizeGB int) error
	DeleteDisk(ctx context.Context, log *slog.Logger, name string) error
}

// TemplateStore manages immutable instance templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, log *slog.Logger, t InstanceTemplate) error
	DeleteTemplate(ctx context.Context, log *slog.Logger, name string) error
}

// GroupStore manages the instance group manager.
type GroupStore interface {
	CreateGroup(ctx context.Context, log *slog.Logger, g InstanceGroup) error

	// UpdateGroup patches mutable group fields (policies, named ports).
	UpdateGroup(ctx context.Context, log *slog.Logger, g InstanceGroup) error

	// SetGroupTemplate points the group at a new template, triggering a
	// rolling replacement of the replica.
	SetGroupTemplate(ctx context.Context, log *slog.Logger, group, template string) error

	DeleteGroup(ctx context.Context, log *slog.Logger, name string) error
}

// ProbeStore manages health checks.
type ProbeStore interface {
	CreateHealthCheck(ctx context.Context, log *slog.Logger, hc HealthCheck) error
	UpdateHealthCheck(ctx context.Context, log *slog.Logger, hc HealthCheck) error
	DeleteHealthCheck(ctx context.Context, log *slog.Logger, name string) error
}

// NetworkStore manages firewall rules and routes.
type NetworkStore interface {
	CreateFirewall(ctx context.Context, log *slog.Logger, f Firewall) error
	UpdateFirewall(ctx context.Context, log *slog.Logger, f Firewall) error
	DeleteFirewall(ctx context.Context, log *slog.Logger, name string) error

	CreateRoute(ctx context.Context, log *slog.Logger, r Route) error
	DeleteRoute(ctx context.Context, log *slog.Logger, name string) error
}

// EdgeStore manages the load-balancer chain: address, certificate, backend
// service, URL maps, proxies and forwarding rules.
type EdgeStore interface {
	CreateAddress(ctx context.Context, log *slog.Logger, a Address) error
	DeleteAddress(ctx context.Context, log *slog.Logger, name string) error

	CreateCertificate(ctx context.Context, log *slog.Logger, c Certificate) error
	DeleteCertificate(ctx context.Context, log *slog.Logger, name string) error

	CreateBackend(ctx context.Context, log *slog.Logger, b BackendService) error
	UpdateBackend(ctx context.Context, log *slog.Logger, b BackendService) error
	DeleteBackend(ctx context.Context, log *slog.Logger, name string) error

	CreateURLMap(ctx context.Context, log *slog.Logger, m URLMap) error
	UpdateURLMap(ctx context.Context, log *slog.Logger, m URLMap) error
	DeleteURLMap(ctx context.Context, log *slog.Logger, name string) error

	CreateProxy(ctx context.Context, log *slog.Logger, p TargetProxy) error
	UpdateProxy(ctx context.Context, log *slog.Logger, p TargetProxy) error
	DeleteProxy(ctx context.Context, log *slog.Logger, p TargetProxy) error

	CreateForwardingRule(ctx context.Context, log *slog.Logger, r ForwardingRule) error
	DeleteForwardingRule(ctx context.Context, log *slog.Logger, r ForwardingRule) error
}

// CloudStore is everything the reconciler needs from a cloud provider.
type CloudStore interface {
	ImageStore
	DiskStore
	TemplateStore
	GroupStore
	ProbeStore
	NetworkStore
	EdgeStore

	// Snapshot reads the current state of every resource the deployment
	// declares.
	Snapshot(ctx context.Context, log *slog.Logger, d *Deployment) (State, error)
}

// Record is the durable output of an apply, kept for downstream consumers
// such as DNS automation.
type Record struct {
	Name           string    `json:"name"`
	Mode           Mode      `json:"mode"`
	Domain         string    `json:"domain"`
	GlobalIP       string    `json:"globalIP"`
	InstanceGroup  string    `json:"instanceGroup"`
	BackendService string    `json:"backendService"`
	Template       string    `json:"template"`
	AppliedAt      time.Time `json:"appliedAt"`
}

type RecordStore interface {
	GetRecord(ctx context.Context, name string) (Record, error)
	GetRecords(ctx context.Context) (map[string]Record, error)
	SetRecord(ctx context.Context, r Record) error
	DeleteRecord(ctx context.Context, name string) error
}
