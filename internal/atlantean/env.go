package atlantean

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	defaultPort    = 4141
	defaultDataDir = "/home/atlantis"
)

// EnvVars is the Atlantis environment with the defaulted keys resolved. The
// same values parameterize the boot configuration, the health checks and the
// container volume mount, so they are resolved once and threaded through.
type EnvVars map[string]string

func (c Config) envVars() EnvVars {
	env := make(EnvVars, len(c.Env)+3)
	for k, v := range c.Env {
		env[k] = v
	}
	if _, ok := env["ATLANTIS_PORT"]; !ok {
		env["ATLANTIS_PORT"] = strconv.Itoa(defaultPort)
	}
	if _, ok := env["ATLANTIS_DATA_DIR"]; !ok {
		env["ATLANTIS_DATA_DIR"] = defaultDataDir
	}
	if _, ok := env["ATLANTIS_ATLANTIS_URL"]; !ok {
		env["ATLANTIS_ATLANTIS_URL"] = "https://" + c.Domain
	}
	return env
}

// Port that Atlantis listens on, shared by the health checks and the named
// port alias.
func (e EnvVars) Port() (int, error) {
	port, err := strconv.Atoi(e["ATLANTIS_PORT"])
	if err != nil {
		return 0, fmt.Errorf("bad ATLANTIS_PORT %q: %w",
			e["ATLANTIS_PORT"], err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("ATLANTIS_PORT out of range: %d", port)
	}
	return port, nil
}

// DataDir is the Atlantis working directory and the container mount path for
// the persistent data disk.
func (e EnvVars) DataDir() string {
	return e["ATLANTIS_DATA_DIR"]
}

func (e EnvVars) sortedKeys() []string {
	keys := maps.Keys(e)
	slices.Sort(keys)
	return keys
}

// file renders the environment as KEY=VALUE lines for the boot-time env
// file, one key per line in a stable order.
func (e EnvVars) file() string {
	var sb strings.Builder
	for _, k := range e.sortedKeys() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(e[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}
