package atlantean

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"strings"
)

// Resource kinds, ordered roughly leaf-first. The apply engine groups steps
// into phases so that every resource exists before anything that references
// it.
type Kind string

const (
	KindDisk           Kind = "disk"
	KindTemplate       Kind = "instance-template"
	KindGroup          Kind = "instance-group"
	KindHealthCheck    Kind = "health-check"
	KindFirewall       Kind = "firewall"
	KindRoute          Kind = "route"
	KindAddress        Kind = "address"
	KindCertificate    Kind = "certificate"
	KindBackend        Kind = "backend-service"
	KindURLMap         Kind = "url-map"
	KindProxy          Kind = "target-proxy"
	KindForwardingRule Kind = "forwarding-rule"
)

// Disk is a standalone zonal disk. It outlives instance replacement and is
// never deleted by the reconciler unless a destroy is forced.
type Disk struct {
	Name   string `json:"name"`
	SizeGB int    `json:"sizeGB"`
	Type   string `json:"type"`
	KMSKey string `json:"kmsKey,omitempty"`
}

// TemplateDisk describes the data disk attached through an instance
// template. When Source is set the template references an existing disk by
// device name; otherwise the disk is created with the instance as a
// stateful disk.
type TemplateDisk struct {
	DeviceName string `json:"deviceName"`
	Source     string `json:"source,omitempty"`
	SizeGB     int    `json:"sizeGB,omitempty"`
	KMSKey     string `json:"kmsKey,omitempty"`
}

// InstanceTemplate is immutable once created. Name is the base name; the
// deployed name appends a fingerprint of the full spec, so any field change
// produces a new template and a rolling replacement of the group's replica.
type InstanceTemplate struct {
	Name                string            `json:"name"`
	MachineType         string            `json:"machineType"`
	BootImage           string            `json:"bootImage"`
	BootDiskSizeGB      int               `json:"bootDiskSizeGB"`
	DataDisk            TemplateDisk      `json:"dataDisk"`
	Network             string            `json:"network"`
	Subnetwork          string            `json:"subnetwork,omitempty"`
	Tags                []string          `json:"tags"`
	ServiceAccount      ServiceAccount    `json:"serviceAccount"`
	Spot                bool              `json:"spot"`
	BlockProjectSSHKeys bool              `json:"blockProjectSSHKeys"`
	Metadata            map[string]string `json:"metadata"`
}

// FullName is the deployed template name: base name plus spec fingerprint.
func (t InstanceTemplate) FullName() (string, error) {
	fp, err := Fingerprint(t)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fmt.Sprintf("%s-%s", t.Name, fp[:8]), nil
}

type NamedPort struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// InstanceGroup supervises a single replica built from the template,
// replacing it on template change and on sustained health-check failure.
type InstanceGroup struct {
	Name             string      `json:"name"`
	BaseInstanceName string      `json:"baseInstanceName"`
	TargetSize       int         `json:"targetSize"`
	NamedPorts       []NamedPort `json:"namedPorts"`

	// HealthCheckName drives auto-healing; empty disables it.
	HealthCheckName string `json:"healthCheckName,omitempty"`
	InitialDelaySec int    `json:"initialDelaySec,omitempty"`

	MaxSurge       int `json:"maxSurge"`
	MaxUnavailable int `json:"maxUnavailable"`

	// StatefulDiskDevices are device names whose disks survive replica
	// recreation (delete rule NEVER).
	StatefulDiskDevices []string `json:"statefulDiskDevices,omitempty"`

	// TemplateName is excluded from the group fingerprint; template
	// rotation is planned as its own step.
	TemplateName string `json:"-"`
}

type HealthCheck struct {
	Name               string `json:"name"`
	Type               string `json:"type"` // "TCP" or "HTTP"
	Port               int    `json:"port"`
	RequestPath        string `json:"requestPath,omitempty"`
	IntervalSec        int    `json:"intervalSec"`
	TimeoutSec         int    `json:"timeoutSec"`
	HealthyThreshold   int    `json:"healthyThreshold"`
	UnhealthyThreshold int    `json:"unhealthyThreshold"`
}

type FirewallRule struct {
	Protocol string   `json:"protocol"`
	Ports    []string `json:"ports,omitempty"`
}

type Firewall struct {
	Name         string         `json:"name"`
	Network      string         `json:"network"`
	Allowed      []FirewallRule `json:"allowed"`
	SourceRanges []string       `json:"sourceRanges"`
	TargetTags   []string       `json:"targetTags,omitempty"`
}

type Route struct {
	Name           string `json:"name"`
	Network        string `json:"network"`
	DestRange      string `json:"destRange"`
	NextHopGateway string `json:"nextHopGateway"`
	Priority       int    `json:"priority"`
}

type Address struct {
	Name string `json:"name"`
}

// Certificate is provider-managed. Changing the domain set requires a new
// certificate, so the deployed name carries a fingerprint of the domains
// and the proxy is patched over to the replacement.
type Certificate struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
}

func (c Certificate) FullName() (string, error) {
	fp, err := Fingerprint(c.Domains)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fmt.Sprintf("%s-%s", c.Name, fp[:8]), nil
}

// BackendService balances by utilization across the instance group, bound
// through the named port alias rather than a literal port number.
type BackendService struct {
	Name            string `json:"name"`
	PortName        string `json:"portName"`
	Protocol        string `json:"protocol"`
	TimeoutSec      int    `json:"timeoutSec"`
	HealthCheckName string `json:"healthCheckName"`
	GroupName       string `json:"groupName"`
}

// URLMap routes all traffic to the default service, or redirects everything
// to HTTPS when HTTPSRedirect is set.
type URLMap struct {
	Name               string `json:"name"`
	DefaultServiceName string `json:"defaultServiceName,omitempty"`
	HTTPSRedirect      bool   `json:"httpsRedirect,omitempty"`
}

// TargetProxy terminates TLS when CertificateName is set, and is a plain
// HTTP proxy otherwise.
type TargetProxy struct {
	Name            string `json:"name"`
	URLMapName      string `json:"urlMapName"`
	CertificateName string `json:"certificateName,omitempty"`
}

type ForwardingRule struct {
	Name        string `json:"name"`
	AddressName string `json:"addressName"`
	PortRange   string `json:"portRange"`
	ProxyName   string `json:"proxyName"`
	HTTPS       bool   `json:"https"`
}

// Fingerprint hashes a resource spec into a short, name-safe identifier.
func Fingerprint(v any) (string, error) {
	byt, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	h := sha1.New()
	if _, err := h.Write(byt); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(h.Sum(nil))), nil
}
