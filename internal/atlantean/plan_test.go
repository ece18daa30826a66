package atlantean

import (
	"testing"
)

// syncedState builds the snapshot an apply of d would leave behind.
func syncedState(t *testing.T, d *Deployment) State {
	t.Helper()

	fp := func(v any) string {
		s, err := Fingerprint(v)
		check(t, err)
		return s
	}
	rs := func(name string, v any) *ResourceState {
		return &ResourceState{Name: name, Fingerprint: fp(v)}
	}

	templateName, err := d.TemplateName()
	check(t, err)
	certName, err := d.Certificate.FullName()
	check(t, err)

	state := State{
		Templates:     []ResourceState{{Name: templateName}},
		Group:         rs(d.Group.Name, d.Group),
		GroupTemplate: templateName,
		TCPCheck:      rs(d.TCPCheck.Name, d.TCPCheck),
		Firewall:      rs(d.HealthFirewall.Name, d.HealthFirewall),
		Address:       rs(d.Address.Name, d.Address),
		AddressIP:     "203.0.113.10",
		Certificates:  []ResourceState{{Name: certName}},
		Backend:       rs(d.Backend.Name, d.Backend),
		URLMap:        rs(d.URLMap.Name, d.URLMap),
		HTTPSProxy:    rs(d.HTTPSProxy.Name, d.HTTPSProxy),
		HTTPSRule:     rs(d.HTTPSRule.Name, d.HTTPSRule),
	}
	if d.DataDisk != nil {
		state.Disk = rs(d.DataDisk.Name, *d.DataDisk)
		state.DiskSizeGB = d.DataDisk.SizeGB
	}
	if d.HTTPCheck != nil {
		state.HTTPCheck = rs(d.HTTPCheck.Name, *d.HTTPCheck)
	}
	if d.EgressRoute != nil {
		state.Route = rs(d.EgressRoute.Name, *d.EgressRoute)
	}
	if d.RedirectURLMap != nil {
		state.RedirectURLMap = rs(d.RedirectURLMap.Name,
			*d.RedirectURLMap)
		state.HTTPProxy = rs(d.HTTPProxy.Name, *d.HTTPProxy)
		state.HTTPRule = rs(d.HTTPRule.Name, *d.HTTPRule)
	}
	return state
}

func findSteps(p *Plan, kind Kind, action Action) []Step {
	var out []Step
	for _, s := range p.Steps() {
		if s.Kind == kind && s.Action == action {
			out = append(out, s)
		}
	}
	return out
}

func TestPlanFreshDeployment(t *testing.T) {
	t.Parallel()

	type testcase struct {
		mode      Mode
		wantSteps int
	}
	tcs := map[string]testcase{
		// template, group, tcp+http checks, firewall, route,
		// address, cert, backend, urlmap, proxy, rule
		"ephemeral": {mode: ModeEphemeral, wantSteps: 12},
		// disk, template, group, tcp check, firewall, address,
		// cert, backend, 2 urlmaps, 2 proxies, 2 rules
		"env-file": {mode: ModeEnvFile, wantSteps: 14},
	}
	for name, tc := range tcs {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := testDeployment(t, tc.mode)
			p, err := d.Plan(State{})
			check(t, err)

			steps := p.Steps()
			if len(steps) != tc.wantSteps {
				t.Fatalf("want %d steps, got %d:\n%s",
					tc.wantSteps, len(steps), p)
			}
			for _, s := range steps {
				if s.Action != ActionCreate {
					t.Fatalf("want only creates, got %s", s)
				}
			}

			// Everything upstream of a reference must land in an
			// earlier phase than the referrer.
			phase := map[Kind]int{}
			for i, ph := range p.Phases {
				for _, s := range ph {
					phase[s.Kind] = i
				}
			}
			order := []Kind{KindHealthCheck, KindTemplate,
				KindGroup, KindBackend, KindURLMap, KindProxy,
				KindForwardingRule}
			for i := 1; i < len(order); i++ {
				if phase[order[i-1]] >= phase[order[i]] {
					t.Fatalf("%s not before %s:\n%s",
						order[i-1], order[i], p)
				}
			}
		})
	}
}

func TestPlanInSync(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeEphemeral, ModeEnvFile} {
		d := testDeployment(t, mode)
		p, err := d.Plan(syncedState(t, d))
		check(t, err)
		if !p.Empty() {
			t.Fatalf("want empty plan for %s, got:\n%s", mode, p)
		}
		if p.String() != "no changes" {
			t.Fatalf("unexpected rendering: %q", p.String())
		}
	}
}

func TestPlanTemplateRotation(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	state := syncedState(t, d)
	oldName, err := d.TemplateName()
	check(t, err)

	conf := testConfig(ModeEphemeral)
	conf.MachineType = "e2-standard-4"
	next, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)
	newName, err := next.TemplateName()
	check(t, err)

	p, err := next.Plan(state)
	check(t, err)

	creates := findSteps(p, KindTemplate, ActionCreate)
	if len(creates) != 1 || creates[0].Name != newName {
		t.Fatalf("want create of %s, got:\n%s", newName, p)
	}
	rolls := findSteps(p, KindGroup, ActionReplace)
	if len(rolls) != 1 {
		t.Fatalf("want group roll, got:\n%s", p)
	}

	// The group still reports the old template, so the roll may be in
	// flight and the stale template survives this run.
	if deletes := findSteps(p, KindTemplate, ActionDelete); len(deletes) != 0 {
		t.Fatalf("stale template deleted mid-roll:\n%s", p)
	}

	// Once the group reports the new template, the next run sweeps the
	// old one, and nothing else.
	rolled := syncedState(t, next)
	rolled.Templates = append(rolled.Templates,
		ResourceState{Name: oldName})
	p, err = next.Plan(rolled)
	check(t, err)
	deletes := findSteps(p, KindTemplate, ActionDelete)
	if len(deletes) != 1 || deletes[0].Name != oldName {
		t.Fatalf("want cleanup of %s, got:\n%s", oldName, p)
	}
	if len(p.Steps()) != 1 {
		t.Fatalf("want only the cleanup step, got:\n%s", p)
	}
}

// A change touching both the container metadata and the group's named ports
// must not schedule two parallel mutations of the one manager.
func TestPlanGroupSinglePatch(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	state := syncedState(t, d)

	conf := testConfig(ModeEphemeral)
	conf.Env = map[string]string{"ATLANTIS_PORT": "8282"}
	next, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)

	p, err := next.Plan(state)
	check(t, err)

	var groupSteps []Step
	for _, s := range p.Steps() {
		if s.Kind == KindGroup {
			groupSteps = append(groupSteps, s)
		}
	}
	if len(groupSteps) != 1 {
		t.Fatalf("want one group step, got %d:\n%s",
			len(groupSteps), p)
	}
	if groupSteps[0].Action != ActionUpdate {
		t.Fatalf("want combined update, got %s", groupSteps[0].Action)
	}
}

func TestPlanCertificateRotation(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEnvFile)
	state := syncedState(t, d)
	oldCert := state.Certificates[0].Name

	conf := testConfig(ModeEnvFile)
	conf.Domain = "atlantis.example.org"
	next, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)
	newCert, err := next.Certificate.FullName()
	check(t, err)

	p, err := next.Plan(state)
	check(t, err)

	creates := findSteps(p, KindCertificate, ActionCreate)
	if len(creates) != 1 || creates[0].Name != newCert {
		t.Fatalf("want create of %s, got:\n%s", newCert, p)
	}
	deletes := findSteps(p, KindCertificate, ActionDelete)
	if len(deletes) != 1 || deletes[0].Name != oldCert {
		t.Fatalf("want cleanup of %s, got:\n%s", oldCert, p)
	}
	// The HTTPS proxy moves onto the new certificate; the redirect
	// chain is untouched.
	updates := findSteps(p, KindProxy, ActionUpdate)
	if len(updates) != 1 || updates[0].Name != next.HTTPSProxy.Name {
		t.Fatalf("want https proxy update only, got:\n%s", p)
	}
}

func TestPlanDiskGrowth(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEnvFile)
	state := syncedState(t, d)

	conf := testConfig(ModeEnvFile)
	conf.DataDiskSizeGB = 100
	grown, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)

	p, err := grown.Plan(state)
	check(t, err)
	resizes := findSteps(p, KindDisk, ActionResize)
	if len(resizes) != 1 {
		t.Fatalf("want resize, got:\n%s", p)
	}

	// Shrinking is refused: a smaller declared size plans nothing for
	// the disk.
	conf.DataDiskSizeGB = 10
	shrunk, err := NewDeployment(conf, testBootImage, testContainer)
	check(t, err)
	p, err = shrunk.Plan(state)
	check(t, err)
	for _, s := range p.Steps() {
		if s.Kind == KindDisk {
			t.Fatalf("want no disk step, got %s", s)
		}
	}
}

func TestPlanHealthCheckDrift(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	state := syncedState(t, d)
	state.TCPCheck.Fingerprint = "stale"

	p, err := d.Plan(state)
	check(t, err)
	updates := findSteps(p, KindHealthCheck, ActionUpdate)
	if len(updates) != 1 || updates[0].Name != d.TCPCheck.Name {
		t.Fatalf("want tcp check update, got:\n%s", p)
	}
}

func TestDestroyPlan(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEnvFile)
	state := syncedState(t, d)

	p := d.DestroyPlan(state, false)
	for _, s := range p.Steps() {
		if s.Action != ActionDelete {
			t.Fatalf("want only deletes, got %s", s)
		}
		if s.Kind == KindDisk {
			t.Fatal("disk must survive an unforced destroy")
		}
	}

	// Forwarding rules go first, the address last.
	first := p.Phases[0]
	for _, s := range first {
		if s.Kind != KindForwardingRule {
			t.Fatalf("want rules first, got %s", s)
		}
	}

	forced := d.DestroyPlan(state, true)
	if len(findSteps(forced, KindDisk, ActionDelete)) != 1 {
		t.Fatal("forced destroy should delete the disk")
	}
	if len(forced.Steps()) != len(p.Steps())+1 {
		t.Fatalf("want one extra step, got %d vs %d",
			len(forced.Steps()), len(p.Steps()))
	}
}

func TestDestroyPlanEmptyState(t *testing.T) {
	t.Parallel()

	d := testDeployment(t, ModeEphemeral)
	p := d.DestroyPlan(State{}, true)
	if !p.Empty() {
		t.Fatalf("want empty plan, got:\n%s", p)
	}
}
