package atlantean

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const (
	testBootImage = "https://www.googleapis.com/compute/v1/projects/cos-cloud/global/images/cos-stable-109"
	testContainer = "ghcr.io/runatlantis/atlantis@sha256:0000000000000000000000000000000000000000000000000000000000000000"
)

func testDeployment(t *testing.T, mode Mode) *Deployment {
	t.Helper()
	d, err := NewDeployment(testConfig(mode), testBootImage,
		testContainer)
	check(t, err)
	return d
}

func TestEnvVars(t *testing.T) {
	t.Parallel()

	conf := testConfig(ModeEphemeral)
	env := conf.envVars()
	if env["ATLANTIS_PORT"] != "4141" {
		t.Fatalf("want default port, got %q", env["ATLANTIS_PORT"])
	}
	if env["ATLANTIS_DATA_DIR"] != "/home/atlantis" {
		t.Fatalf("want default data dir, got %q",
			env["ATLANTIS_DATA_DIR"])
	}
	if env["ATLANTIS_ATLANTIS_URL"] != "https://atlantis.example.com" {
		t.Fatalf("unexpected url: %q", env["ATLANTIS_ATLANTIS_URL"])
	}
	port, err := env.Port()
	check(t, err)
	if port != 4141 {
		t.Fatalf("want 4141, got %d", port)
	}

	conf.Env = map[string]string{
		"ATLANTIS_PORT":     "8080",
		"ATLANTIS_DATA_DIR": "/data",
	}
	env = conf.envVars()
	port, err = env.Port()
	check(t, err)
	if port != 8080 {
		t.Fatalf("want overridden port 8080, got %d", port)
	}
	if env.DataDir() != "/data" {
		t.Fatalf("want overridden data dir, got %q", env.DataDir())
	}

	conf.Env["ATLANTIS_PORT"] = "not-a-port"
	if _, err = conf.envVars().Port(); err == nil {
		t.Fatal("want error for bad port")
	}
	conf.Env["ATLANTIS_PORT"] = "70000"
	if _, err = conf.envVars().Port(); err == nil {
		t.Fatal("want error for out-of-range port")
	}
}

func TestEnvFile(t *testing.T) {
	t.Parallel()

	env := EnvVars{"B": "2", "A": "1", "C": "3"}
	want := "A=1\nB=2\nC=3\n"
	if got := env.file(); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestNewDeploymentEphemeral(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)

	if d.DataDisk != nil {
		t.Fatal("want no standalone disk")
	}
	if len(d.Group.StatefulDiskDevices) != 1 ||
		d.Group.StatefulDiskDevices[0] != "atl-data" {

		t.Fatalf("unexpected stateful disks: %v",
			d.Group.StatefulDiskDevices)
	}
	if d.HTTPCheck == nil {
		t.Fatal("want http check")
	}
	if d.Group.HealthCheckName != d.HTTPCheck.Name {
		t.Fatal("group should heal on the http check")
	}
	if d.HTTPCheck.RequestPath != "/healthz" {
		t.Fatalf("unexpected path: %q", d.HTTPCheck.RequestPath)
	}
	if d.EgressRoute == nil {
		t.Fatal("want egress route")
	}
	if d.EgressRoute.DestRange != "0.0.0.0/0" {
		t.Fatalf("unexpected dest range: %q", d.EgressRoute.DestRange)
	}
	if d.RedirectURLMap != nil || d.HTTPProxy != nil || d.HTTPRule != nil {
		t.Fatal("want no redirect chain")
	}
	if _, ok := d.Template.Metadata["user-data"]; ok {
		t.Fatal("want no cloud-init payload")
	}

	if len(d.HealthFirewall.Allowed) != 1 {
		t.Fatalf("want tcp only, got %v", d.HealthFirewall.Allowed)
	}
	rule := d.HealthFirewall.Allowed[0]
	if rule.Protocol != "tcp" || len(rule.Ports) != 1 ||
		rule.Ports[0] != "4141" {

		t.Fatalf("unexpected firewall rule: %+v", rule)
	}
}

func TestNewDeploymentEnvFile(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEnvFile)

	if d.DataDisk == nil {
		t.Fatal("want standalone disk")
	}
	if d.DataDisk.Type != "pd-ssd" || d.DataDisk.SizeGB != 25 {
		t.Fatalf("unexpected disk: %+v", d.DataDisk)
	}
	if d.Template.DataDisk.Source != "atl-data" {
		t.Fatalf("template should attach the disk by name, got %q",
			d.Template.DataDisk.Source)
	}
	if d.HTTPCheck != nil {
		t.Fatal("want no http check")
	}
	if d.Group.HealthCheckName != d.TCPCheck.Name {
		t.Fatal("group should heal on the tcp check")
	}
	if d.EgressRoute != nil {
		t.Fatal("want no egress route")
	}

	var icmp bool
	for _, rule := range d.HealthFirewall.Allowed {
		if rule.Protocol == "icmp" {
			icmp = true
		}
	}
	if !icmp {
		t.Fatal("want icmp allowed")
	}

	if d.RedirectURLMap == nil || d.HTTPProxy == nil || d.HTTPRule == nil {
		t.Fatal("want redirect chain")
	}
	if !d.RedirectURLMap.HTTPSRedirect {
		t.Fatal("redirect map should redirect")
	}
	if d.HTTPRule.PortRange != "80" || d.HTTPRule.HTTPS {
		t.Fatalf("unexpected http rule: %+v", d.HTTPRule)
	}
	if d.HTTPRule.AddressName != d.HTTPSRule.AddressName {
		t.Fatal("both rules should share the global address")
	}

	userData, ok := d.Template.Metadata["user-data"]
	if !ok {
		t.Fatal("want cloud-init payload")
	}
	if !strings.Contains(userData, "ATLANTIS_PORT=4141") {
		t.Fatal("env file missing from cloud-init")
	}
	if !strings.Contains(userData, "/bin/chown -R 100:1000 "+
		containerMountRoot+"/atl-data") {

		t.Fatal("ownership unit missing from cloud-init")
	}
	if !strings.Contains(userData, "After=konlet-startup.service") {
		t.Fatal("ownership unit should order after konlet")
	}
}

func TestHealthCheckRanges(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	want := []string{"130.211.0.0/22", "35.191.0.0/16"}
	got := d.HealthFirewall.SourceRanges
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestContainerDeclaration(t *testing.T) {
	t.Parallel()

	type testcase struct {
		mode      Mode
		wantEnv   bool
		wantMount string
	}
	tcs := map[string]testcase{
		"ephemeral": {
			mode:    ModeEphemeral,
			wantEnv: true,
		},
		"env-file": {
			mode:      ModeEnvFile,
			wantEnv:   false,
			wantMount: "/etc/atlantis",
		},
	}
	for name, tc := range tcs {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := testDeployment(t, tc.mode)
			raw := d.Template.Metadata["gce-container-declaration"]
			if raw == "" {
				t.Fatal("missing container declaration")
			}
			var decl containerDeclaration
			check(t, yaml.Unmarshal([]byte(raw), &decl))

			if len(decl.Spec.Containers) != 1 {
				t.Fatalf("want 1 container, got %d",
					len(decl.Spec.Containers))
			}
			c := decl.Spec.Containers[0]
			if c.Image != testContainer {
				t.Fatalf("unexpected image: %q", c.Image)
			}

			seen := map[string]int{}
			for _, e := range c.Env {
				seen[e.Name]++
			}
			if tc.wantEnv {
				for _, k := range []string{"ATLANTIS_PORT",
					"ATLANTIS_DATA_DIR",
					"ATLANTIS_ATLANTIS_URL"} {

					if seen[k] != 1 {
						t.Fatalf("key %s appears %d "+
							"times", k, seen[k])
					}
				}
			} else if len(c.Env) != 0 {
				t.Fatalf("want no env entries, got %v", c.Env)
			}

			var dataMount bool
			for _, m := range c.VolumeMounts {
				if m.Name == "atl-data" &&
					m.MountPath == "/home/atlantis" {

					dataMount = true
				}
				if tc.wantMount != "" &&
					m.MountPath == tc.wantMount &&
					!m.ReadOnly {

					t.Fatal("env mount should be read-only")
				}
			}
			if !dataMount {
				t.Fatal("data disk mount missing")
			}

			var pd bool
			for _, v := range decl.Spec.Volumes {
				if v.GCEPersistentDisk != nil &&
					v.GCEPersistentDisk.PDName == "atl-data" {

					pd = true
				}
			}
			if !pd {
				t.Fatal("persistent disk volume missing")
			}
		})
	}
}

func TestTemplateNameRotation(t *testing.T) {
	t.Parallel()

	a := testDeployment(t, ModeEphemeral)
	b := testDeployment(t, ModeEphemeral)
	nameA, err := a.TemplateName()
	check(t, err)
	nameB, err := b.TemplateName()
	check(t, err)
	if nameA != nameB {
		t.Fatal("identical specs should share a template name")
	}
	if !strings.HasPrefix(nameA, "atl-") {
		t.Fatalf("unexpected template name: %q", nameA)
	}

	conf := testConfig(ModeEphemeral)
	conf.MachineType = "e2-standard-4"
	c, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)
	nameC, err := c.TemplateName()
	check(t, err)
	if nameC == nameA {
		t.Fatal("spec change should rotate the template name")
	}
}

func TestGroupFingerprintIgnoresTemplate(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	before, err := Fingerprint(d.Group)
	check(t, err)
	d.Group.TemplateName = "atl-12345678"
	after, err := Fingerprint(d.Group)
	check(t, err)
	if before != after {
		t.Fatal("template pointer should not change the group " +
			"fingerprint")
	}
}

func TestCertificateNameRotation(t *testing.T) {
	t.Parallel()

	a := Certificate{Name: "atl-cert",
		Domains: []string{"atlantis.example.com"}}
	b := Certificate{Name: "atl-cert",
		Domains: []string{"atlantis.example.org"}}
	nameA, err := a.FullName()
	check(t, err)
	nameB, err := b.FullName()
	check(t, err)
	if nameA == nameB {
		t.Fatal("domain change should rotate the certificate name")
	}
	if !strings.HasPrefix(nameA, "atl-cert-") {
		t.Fatalf("unexpected certificate name: %q", nameA)
	}
}

// Overriding ATLANTIS_PORT and ATLANTIS_DATA_DIR must carry through every
// place the deployment references them: both health checks, the named port,
// the firewall allowance and the container's data mount.
func TestPortOverrideFlows(t *testing.T) {
	t.Parallel()

	conf := testConfig(ModeEphemeral)
	conf.Env = map[string]string{
		"ATLANTIS_PORT":     "8282",
		"ATLANTIS_DATA_DIR": "/srv/atlantis",
	}
	d, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)

	if d.TCPCheck.Port != 8282 {
		t.Fatalf("want tcp check on 8282, got %d", d.TCPCheck.Port)
	}
	if d.HTTPCheck == nil || d.HTTPCheck.Port != 8282 {
		t.Fatalf("want http check on 8282, got %+v", d.HTTPCheck)
	}
	if len(d.Group.NamedPorts) != 1 ||
		d.Group.NamedPorts[0].Port != 8282 {

		t.Fatalf("unexpected named ports: %v", d.Group.NamedPorts)
	}

	var tcpPorts []string
	for _, rule := range d.HealthFirewall.Allowed {
		if rule.Protocol == "tcp" {
			tcpPorts = rule.Ports
		}
	}
	if len(tcpPorts) != 1 || tcpPorts[0] != "8282" {
		t.Fatalf("want firewall tcp port 8282, got %v", tcpPorts)
	}

	raw := d.Template.Metadata["gce-container-declaration"]
	var decl containerDeclaration
	check(t, yaml.Unmarshal([]byte(raw), &decl))
	var dataPath string
	for _, m := range decl.Spec.Containers[0].VolumeMounts {
		if m.Name == "atl-data" {
			dataPath = m.MountPath
		}
	}
	if dataPath != "/srv/atlantis" {
		t.Fatalf("want data mount at /srv/atlantis, got %q", dataPath)
	}

	env := map[string]string{}
	for _, e := range decl.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	if env["ATLANTIS_PORT"] != "8282" {
		t.Fatalf("want env port 8282, got %q", env["ATLANTIS_PORT"])
	}
}
