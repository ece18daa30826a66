package atlantean

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(mode Mode) Config {
	conf := defaultConfig()
	conf.Name = "atl"
	conf.Project = "p"
	conf.Region = "r1"
	conf.Zone = "r1-a"
	conf.Domain = "atlantis.example.com"
	conf.ServiceAccount = ServiceAccount{
		Email: "atlantis@p.iam.gserviceaccount.com",
		Scopes: []string{
			"https://www.googleapis.com/auth/cloud-platform",
		},
	}
	conf.Mode = mode
	return conf
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	const body = `{
		"name": "atl",
		"project": "p",
		"region": "r1",
		"zone": "r1-a",
		"domain": "atlantis.example.com",
		"serviceAccount": {"email": "atlantis@p.iam.gserviceaccount.com"},
		"env": {"ATLANTIS_REPO_ALLOWLIST": "github.com/org/*"}
	}`
	pth := filepath.Join(t.TempDir(), ConfigName)
	if err := os.WriteFile(pth, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	conf, err := ParseConfig(pth)
	check(t, err)

	if conf.Network != "default" {
		t.Fatalf("want default network, got %q", conf.Network)
	}
	if conf.Mode != ModeEphemeral {
		t.Fatalf("want ephemeral mode, got %q", conf.Mode)
	}
	if conf.MachineType != "e2-standard-2" {
		t.Fatalf("unexpected machine type: %q", conf.MachineType)
	}
	if conf.DataDiskSizeGB != 25 {
		t.Fatalf("unexpected data disk size: %d", conf.DataDiskSizeGB)
	}
	if conf.Env["ATLANTIS_REPO_ALLOWLIST"] != "github.com/org/*" {
		t.Fatal("env not preserved")
	}
}

func TestParseConfigMissingFields(t *testing.T) {
	t.Parallel()

	pth := filepath.Join(t.TempDir(), ConfigName)
	err := os.WriteFile(pth, []byte(`{"name": "atl"}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ParseConfig(pth)
	if err == nil {
		t.Fatal("want error")
	}
	for _, field := range []string{"project", "region", "zone", "domain"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error does not name %q: %s", field, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	type testcase struct {
		name   string
		mutate func(*Config)
		want   string
	}
	tcs := []testcase{{
		name:   "valid",
		mutate: func(c *Config) {},
		want:   "",
	}, {
		name:   "bad mode",
		mutate: func(c *Config) { c.Mode = "floppy-disk" },
		want:   "unknown mode",
	}, {
		name: "long name",
		mutate: func(c *Config) {
			c.Name = strings.Repeat("a", 41)
		},
		want: "name too long",
	}, {
		name:   "zone outside region",
		mutate: func(c *Config) { c.Zone = "r2-a" },
		want:   "not in region",
	}, {
		name:   "missing domain",
		mutate: func(c *Config) { c.Domain = "" },
		want:   "domain",
	}}
	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conf := testConfig(ModeEphemeral)
			tc.mutate(&conf)
			err := conf.Validate()
			if tc.want == "" {
				check(t, err)
				return
			}
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want %q in error, got: %s", tc.want,
					err)
			}
		})
	}
}

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
