package atlantean

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
)

const ConfigName = "atlantean.json"

type LogFormat string

const (
	LogFormatDefault LogFormat = ""
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

type LogLevel string

const (
	LogLevelDefault LogLevel = ""
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
)

// Mode selects the deployment's disk and boot-configuration strategy.
type Mode string

const (
	// ModeEphemeral keeps the data disk attached through the instance
	// template as a stateful disk and injects the Atlantis environment
	// directly into the container declaration.
	ModeEphemeral Mode = "ephemeral"

	// ModeEnvFile provisions a standalone data disk referenced by device
	// name and delivers the Atlantis environment as a file written at
	// boot by cloud-init.
	ModeEnvFile Mode = "env-file"
)

type ServiceAccount struct {
	Email  string   `json:"email"`
	Scopes []string `json:"scopes,omitempty"`
}

// Config holds the operator-supplied deployment definition, parsed from
// atlantean.json.
type Config struct {
	// Name prefixes every provisioned resource.
	Name string `json:"name"`

	Project    string `json:"project"`
	Region     string `json:"region"`
	Zone       string `json:"zone"`
	Network    string `json:"network,omitempty"`
	Subnetwork string `json:"subnetwork,omitempty"`

	// Domain for the managed TLS certificate, e.g.
	// "atlantis.example.com".
	Domain string `json:"domain"`

	MachineType  string `json:"machineType,omitempty"`
	ImageProject string `json:"imageProject,omitempty"`
	ImageFamily  string `json:"imageFamily,omitempty"`

	// ContainerImage running Atlantis. Tag references are pinned to a
	// digest at plan time so that pushes roll the template.
	ContainerImage string `json:"containerImage,omitempty"`

	ServiceAccount ServiceAccount `json:"serviceAccount"`

	// DiskEncryptionKey is a KMS key self link applied to the data disk
	// when set.
	DiskEncryptionKey string `json:"diskEncryptionKey,omitempty"`

	DataDiskSizeGB int `json:"dataDiskSizeGB,omitempty"`
	BootDiskSizeGB int `json:"bootDiskSizeGB,omitempty"`

	Spot                bool `json:"spot,omitempty"`
	BlockProjectSSHKeys bool `json:"blockProjectSSHKeys,omitempty"`

	Mode Mode `json:"mode,omitempty"`

	// Env holds the Atlantis environment. ATLANTIS_PORT and
	// ATLANTIS_DATA_DIR receive defaults when absent and parameterize
	// the health checks, the named port and the volume mount.
	Env map[string]string `json:"env,omitempty"`

	// Store is a GCS bucket name for deployment records. Optional.
	Store string `json:"store,omitempty"`

	Log LogConfig `json:"log,omitempty"`
}

type LogConfig struct {
	Format LogFormat `json:"format,omitempty"`
	Level  LogLevel  `json:"level,omitempty"`
}

func defaultConfig() Config {
	return Config{
		Network:        "default",
		MachineType:    "e2-standard-2",
		ImageProject:   "cos-cloud",
		ImageFamily:    "cos-stable",
		ContainerImage: "ghcr.io/runatlantis/atlantis:latest",
		DataDiskSizeGB: 25,
		BootDiskSizeGB: 10,
		Mode:           ModeEphemeral,
	}
}

func ParseConfig(configPath string) (Config, error) {
	var conf Config
	byt, err := os.ReadFile(configPath)
	if err != nil {
		return conf, fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(byt, &conf); err != nil {
		return conf, fmt.Errorf("unmarshal: %w", err)
	}
	if err := mergo.Merge(&conf, defaultConfig()); err != nil {
		return conf, fmt.Errorf("merge defaults: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("validate: %w", err)
	}
	return conf, nil
}

func (c Config) Validate() error {
	required := []struct{ field, val string }{
		{"name", c.Name},
		{"project", c.Project},
		{"region", c.Region},
		{"zone", c.Zone},
		{"domain", c.Domain},
		{"serviceAccount.email", c.ServiceAccount.Email},
	}
	var missing []string
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s",
			strings.Join(missing, ", "))
	}
	switch c.Mode {
	case ModeEphemeral, ModeEnvFile:
	default:
		return fmt.Errorf("unknown mode: %s", c.Mode)
	}
	if len(c.Name) > 40 {
		// Resource names append suffixes and must stay within the
		// provider's 63 character limit.
		return errors.New("name too long, max 40 characters")
	}
	if !strings.HasPrefix(c.Zone, c.Region) {
		return fmt.Errorf("zone %s not in region %s", c.Zone, c.Region)
	}
	return nil
}
