package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
	"golang.org/x/oauth2"
)

var data = map[string][]byte{}

func init() {
	const p = " /projects/p"
	const z = p + "/zones/r1-a"

	data["GET"+z+"/disks/atl-data"] = loadFixture("disk_get.json")
	data["POST"+z+"/disks"] = loadFixture("operation_insert.json")
	data["POST"+z+"/disks/atl-data/resize"] = loadFixture("operation_insert.json")
	data["GET"+p+"/global/instanceTemplates"] = loadFixture("templates_list.json")
	data["POST"+p+"/global/instanceTemplates"] = loadFixture("operation_insert.json")
	data["GET"+z+"/instanceGroupManagers/atl-mig"] = loadFixture("group_get.json")
	data["PATCH"+z+"/instanceGroupManagers/atl-mig"] = loadFixture("operation_insert.json")
	data["GET"+p+"/global/healthChecks/atl-hc-tcp"] = loadFixture("healthcheck_get.json")
	data["GET"+p+"/global/firewalls/atl-allow-health"] = loadFixture("firewall_get.json")
	data["GET"+p+"/global/addresses/atl-ip"] = loadFixture("address_get.json")
	data["GET"+p+"/global/sslCertificates"] = loadFixture("certificates_list.json")
	data["GET"+p+"/global/backendServices/atl-backend"] = loadFixture("backend_get.json")
	data["GET"+p+"/global/urlMaps/atl-urlmap"] = loadFixture("urlmap_get.json")
	data["GET"+p+"/global/targetHttpsProxies/atl-https-proxy"] = loadFixture("proxy_get.json")
	data["GET"+p+"/global/forwardingRules/atl-https"] = loadFixture("rule_get.json")

	data["GET"+p+"/global/operations/op-1"] = loadFixture("operations_done.json")

	data["GET /projects/cos-cloud/global/images/family/cos-stable"] =
		loadFixture("image_get.json")
}

// newStub keys responses on method and path only. Mutations append a random
// requestId query parameter, so the raw request URI never matches.
func newStub() (*GCP, *httptest.Server) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, exists := data[r.Method+" "+r.URL.Path]
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(rsp)
	}))
	g := &GCP{
		url:     stub.URL,
		client:  &http.Client{},
		project: "p",
		region:  "r1",
		zone:    "r1-a",
		tokenSource: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: "stub",
		}),
	}
	return g, stub
}

func testDeployment(t *testing.T) *atlantean.Deployment {
	t.Helper()

	conf := atlantean.Config{
		Name:           "atl",
		Project:        "p",
		Region:         "r1",
		Zone:           "r1-a",
		Network:        "default",
		Domain:         "atlantis.example.com",
		MachineType:    "e2-standard-2",
		ImageProject:   "cos-cloud",
		ImageFamily:    "cos-stable",
		ContainerImage: "ghcr.io/runatlantis/atlantis:latest",
		DataDiskSizeGB: 25,
		BootDiskSizeGB: 10,
		Mode:           atlantean.ModeEnvFile,
		ServiceAccount: atlantean.ServiceAccount{
			Email: "atlantis@p.iam.gserviceaccount.com",
			Scopes: []string{
				"https://www.googleapis.com/auth/cloud-platform",
			},
		},
	}
	const bootImage = "https://www.googleapis.com/compute/v1/projects/cos-cloud/global/images/cos-stable-109-17800-66-27"
	const containerImage = "ghcr.io/runatlantis/atlantis@sha256:1f41c145d5e83071cbbd7a9a278f0c2c6da6fd81bef42828487ca1ec25d79f2d"
	d, err := atlantean.NewDeployment(conf, bootImage, containerImage)
	check(t, err)
	return d
}

func TestResolveImage(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	link, err := g.ResolveImage(context.Background(), logger, "cos-cloud",
		"cos-stable")
	check(t, err)
	const want = "https://www.googleapis.com/compute/v1/projects/cos-cloud/global/images/cos-stable-109-17800-66-27"
	if link != want {
		t.Fatalf("want %s, got %s", want, link)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	d := testDeployment(t)
	state, err := g.Snapshot(context.Background(), logger, d)
	check(t, err)

	if state.Disk == nil {
		t.Fatal("want disk")
	}
	if state.Disk.Fingerprint != "diskfp" {
		t.Fatalf("want disk fingerprint diskfp, got %q",
			state.Disk.Fingerprint)
	}
	if state.DiskSizeGB != 25 {
		t.Fatalf("want disk size 25, got %d", state.DiskSizeGB)
	}
	if len(state.Templates) != 1 ||
		state.Templates[0].Name != "atl-aaaaaaaa" {
		t.Fatalf("want 1 template atl-aaaaaaaa, got %v",
			state.Templates)
	}
	if state.Group == nil || state.GroupTemplate != "atl-aaaaaaaa" {
		t.Fatalf("want group on atl-aaaaaaaa, got %v %q", state.Group,
			state.GroupTemplate)
	}
	if state.TCPCheck == nil || state.TCPCheck.Fingerprint != "hcfp" {
		t.Fatalf("want tcp check hcfp, got %v", state.TCPCheck)
	}
	if state.Firewall == nil {
		t.Fatal("want firewall")
	}
	if state.AddressIP != "203.0.113.10" {
		t.Fatalf("want address ip 203.0.113.10, got %q",
			state.AddressIP)
	}
	if len(state.Certificates) != 1 ||
		state.Certificates[0].Name != "atl-cert-cccccccc" {
		t.Fatalf("want 1 certificate atl-cert-cccccccc, got %v",
			state.Certificates)
	}
	if state.Backend == nil || state.URLMap == nil ||
		state.HTTPSProxy == nil || state.HTTPSRule == nil {
		t.Fatal("want https chain resources")
	}

	// The redirect chain hasn't been deployed to the stub yet. Those
	// reads 404 and come back nil rather than failing the snapshot.
	if state.RedirectURLMap != nil {
		t.Fatal("want nil redirect url map")
	}
	if state.HTTPProxy != nil {
		t.Fatal("want nil http proxy")
	}
	if state.HTTPRule != nil {
		t.Fatal("want nil http rule")
	}
}

func TestCreateDisk(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	d := testDeployment(t)
	err := g.CreateDisk(context.Background(), logger, *d.DataDisk)
	check(t, err)
}

func TestResizeDisk(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	err := g.ResizeDisk(context.Background(), logger, "atl-data", 50)
	check(t, err)
}

func TestCreateTemplate(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	d := testDeployment(t)
	err := g.CreateTemplate(context.Background(), logger, d.Template)
	check(t, err)
}

func TestSetGroupTemplate(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	err := g.SetGroupTemplate(context.Background(), logger, "atl-mig",
		"atl-bbbbbbbb")
	check(t, err)
}

// Deleting something already gone is not an error. A second destroy after a
// partial failure has to be able to run to completion.
func TestDeleteMissingFirewall(t *testing.T) {
	t.Parallel()
	g, stub := newStub()
	defer stub.Close()

	logger, close := log()
	defer close()

	err := g.DeleteFirewall(context.Background(), logger, "atl-ghost")
	check(t, err)
}

func TestParseDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc string
		want string
	}{
		{desc: "atlantean:fp:abc123", want: "abc123"},
		{desc: "atlantean:fp:", want: ""},
		{desc: "managed by terraform", want: ""},
		{desc: "", want: ""},
	}
	for _, tc := range tests {
		got := parseDescription(tc.desc)
		if got != tc.want {
			t.Fatalf("parse %q: want %q, got %q", tc.desc, tc.want,
				got)
		}
	}
}

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// loadFixture from testdata, outputting the bytes, or panic if anything fails.
// The path should be relative to the testdata directory.
func loadFixture(pth string) []byte {
	byt, err := os.ReadFile(filepath.Join("testdata", pth))
	if err != nil {
		panic(fmt.Errorf("load fixture: %w", err))
	}
	return byt
}

func log() (*slog.Logger, func()) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		panic(err)
	}
	closer := func() {
		err := devnull.Close()
		if err != nil {
			panic(err)
		}
	}
	textHandler := slog.NewTextHandler(devnull, &slog.HandlerOptions{})
	return slog.New(textHandler), closer
}
