package atlantean

import (
	"fmt"
	"strconv"
)

// Google publishes these ranges as the sources of load-balancer and
// health-check probes. Firewall rules admit exactly these and nothing else.
// https://cloud.google.com/load-balancing/docs/health-check-concepts
var healthCheckRanges = []string{
	"130.211.0.0/22",
	"35.191.0.0/16",
}

const namedPortAlias = "atlantis"

// Deployment is the fully resolved desired state for one Atlantis install:
// every resource the reconciler manages, leaves first.
type Deployment struct {
	Name string
	Mode Mode
	Env  EnvVars

	// DataDisk is the standalone disk in env-file mode; nil in ephemeral
	// mode, where the disk is declared inside the template instead.
	DataDisk *Disk

	Template InstanceTemplate
	Group    InstanceGroup

	TCPCheck HealthCheck

	// HTTPCheck drives auto-healing in ephemeral mode only.
	HTTPCheck *HealthCheck

	HealthFirewall Firewall

	// EgressRoute is the explicit default route in ephemeral mode only.
	EgressRoute *Route

	Address     Address
	Certificate Certificate
	Backend     BackendService
	URLMap      URLMap
	HTTPSProxy  TargetProxy
	HTTPSRule   ForwardingRule

	// HTTP->HTTPS redirect chain, env-file mode only.
	RedirectURLMap *URLMap
	HTTPProxy      *TargetProxy
	HTTPRule       *ForwardingRule
}

// NewDeployment resolves the operator config into concrete resource specs.
// bootImage and containerImage must already be resolved: the boot image to
// an image self link, the container image to a digest-pinned reference.
func NewDeployment(
	conf Config,
	bootImage, containerImage string,
) (*Deployment, error) {
	env := conf.envVars()
	port, err := env.Port()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}

	n := conf.Name
	diskDevice := n + "-data"
	tag := n + "-atlantis"

	d := &Deployment{
		Name: n,
		Mode: conf.Mode,
		Env:  env,
	}

	decl, err := renderContainerDeclaration(n, containerImage,
		diskDevice, env, conf.Mode)
	if err != nil {
		return nil, fmt.Errorf("render container declaration: %w", err)
	}
	metadata := map[string]string{
		"gce-container-declaration": decl,
		"google-logging-enabled":    "true",
	}
	if conf.BlockProjectSSHKeys {
		metadata["block-project-ssh-keys"] = "true"
	}

	dataDisk := TemplateDisk{
		DeviceName: diskDevice,
		KMSKey:     conf.DiskEncryptionKey,
	}
	switch conf.Mode {
	case ModeEphemeral:
		// The disk rides along in the template as a stateful disk;
		// the group's stateful policy keeps it across replacements.
		dataDisk.SizeGB = conf.DataDiskSizeGB
	case ModeEnvFile:
		d.DataDisk = &Disk{
			Name:   diskDevice,
			SizeGB: conf.DataDiskSizeGB,
			Type:   "pd-ssd",
			KMSKey: conf.DiskEncryptionKey,
		}
		dataDisk.Source = diskDevice
		metadata["user-data"] = renderCloudConfig(diskDevice, env)
	}

	d.Template = InstanceTemplate{
		Name:                n,
		MachineType:         conf.MachineType,
		BootImage:           bootImage,
		BootDiskSizeGB:      conf.BootDiskSizeGB,
		DataDisk:            dataDisk,
		Network:             conf.Network,
		Subnetwork:          conf.Subnetwork,
		Tags:                []string{tag},
		ServiceAccount:      conf.ServiceAccount,
		Spot:                conf.Spot,
		BlockProjectSSHKeys: conf.BlockProjectSSHKeys,
		Metadata:            metadata,
	}

	// Short interval and timeout with a higher failure threshold: we
	// learn about failures quickly without replacing the replica on a
	// single dropped probe.
	d.TCPCheck = HealthCheck{
		Name:               n + "-hc-tcp",
		Type:               "TCP",
		Port:               port,
		IntervalSec:        1,
		TimeoutSec:         1,
		HealthyThreshold:   4,
		UnhealthyThreshold: 4,
	}

	d.Group = InstanceGroup{
		Name:             n + "-mig",
		BaseInstanceName: n,
		TargetSize:       1,
		NamedPorts: []NamedPort{{
			Name: namedPortAlias,
			Port: port,
		}},

		// A single replica means the rolling update degrades to
		// "replace the one replica": surge one, never drop below
		// zero available on purpose.
		MaxSurge:       1,
		MaxUnavailable: 0,
	}

	firewallProtocols := []FirewallRule{{
		Protocol: "tcp",
		Ports:    []string{strconv.Itoa(port)},
	}}

	switch conf.Mode {
	case ModeEphemeral:
		d.HTTPCheck = &HealthCheck{
			Name:               n + "-hc-http",
			Type:               "HTTP",
			Port:               port,
			RequestPath:        "/healthz",
			IntervalSec:        1,
			TimeoutSec:         1,
			HealthyThreshold:   4,
			UnhealthyThreshold: 5,
		}
		d.Group.HealthCheckName = d.HTTPCheck.Name
		d.Group.InitialDelaySec = 60
		d.Group.StatefulDiskDevices = []string{diskDevice}

		// The target network may not carry an implicit default
		// route, and a VM that cannot reach the internet cannot pull
		// its container image.
		d.EgressRoute = &Route{
			Name:           n + "-egress",
			Network:        conf.Network,
			DestRange:      "0.0.0.0/0",
			NextHopGateway: "default-internet-gateway",
			Priority:       1000,
		}
	case ModeEnvFile:
		d.Group.HealthCheckName = d.TCPCheck.Name
		d.Group.InitialDelaySec = 60

		firewallProtocols = append(firewallProtocols, FirewallRule{
			Protocol: "icmp",
		})
	}

	d.HealthFirewall = Firewall{
		Name:         n + "-allow-health",
		Network:      conf.Network,
		Allowed:      firewallProtocols,
		SourceRanges: healthCheckRanges,
		TargetTags:   []string{tag},
	}

	d.Address = Address{Name: n + "-ip"}
	d.Certificate = Certificate{
		Name:    n + "-cert",
		Domains: []string{conf.Domain},
	}

	certName, err := d.Certificate.FullName()
	if err != nil {
		return nil, fmt.Errorf("certificate name: %w", err)
	}

	d.Backend = BackendService{
		Name:            n + "-backend",
		PortName:        namedPortAlias,
		Protocol:        "HTTP",
		TimeoutSec:      30,
		HealthCheckName: d.TCPCheck.Name,
		GroupName:       d.Group.Name,
	}
	d.URLMap = URLMap{
		Name:               n + "-urlmap",
		DefaultServiceName: d.Backend.Name,
	}
	d.HTTPSProxy = TargetProxy{
		Name:            n + "-https-proxy",
		URLMapName:      d.URLMap.Name,
		CertificateName: certName,
	}
	d.HTTPSRule = ForwardingRule{
		Name:        n + "-https",
		AddressName: d.Address.Name,
		PortRange:   "443",
		ProxyName:   d.HTTPSProxy.Name,
		HTTPS:       true,
	}

	if conf.Mode == ModeEnvFile {
		// Port 80 is redirected at the URL-map level, never served by
		// the application, and binds the same global address as 443.
		d.RedirectURLMap = &URLMap{
			Name:          n + "-redirect",
			HTTPSRedirect: true,
		}
		d.HTTPProxy = &TargetProxy{
			Name:       n + "-http-proxy",
			URLMapName: d.RedirectURLMap.Name,
		}
		d.HTTPRule = &ForwardingRule{
			Name:        n + "-http",
			AddressName: d.Address.Name,
			PortRange:   "80",
			ProxyName:   d.HTTPProxy.Name,
		}
	}

	return d, nil
}

// TemplateName is the deployed, fingerprinted template name.
func (d *Deployment) TemplateName() (string, error) {
	return d.Template.FullName()
}

// healthChecks lists the checks this deployment carries.
func (d *Deployment) healthChecks() []HealthCheck {
	checks := []HealthCheck{d.TCPCheck}
	if d.HTTPCheck != nil {
		checks = append(checks, *d.HTTPCheck)
	}
	return checks
}
