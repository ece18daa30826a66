package atlantean

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionResize  Action = "resize"
)

// Step is one planned operation against one resource.
type Step struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s Step) String() string {
	out := fmt.Sprintf("%s %s %q", s.Action, s.Kind, s.Name)
	if s.Reason != "" {
		out += " (" + s.Reason + ")"
	}
	return out
}

// Plan is an ordered set of steps grouped into phases. Steps within a phase
// are independent and run in parallel; phases run in sequence so that every
// resource exists before anything that references it.
type Plan struct {
	Phases [][]Step `json:"phases"`
}

func (p *Plan) Empty() bool {
	for _, phase := range p.Phases {
		if len(phase) > 0 {
			return false
		}
	}
	return true
}

func (p *Plan) Steps() []Step {
	var out []Step
	for _, phase := range p.Phases {
		out = append(out, phase...)
	}
	return out
}

func (p *Plan) String() string {
	if p.Empty() {
		return "no changes"
	}
	var sb strings.Builder
	for _, s := range p.Steps() {
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (p *Plan) add(phase int, s Step) {
	for len(p.Phases) <= phase {
		p.Phases = append(p.Phases, nil)
	}
	p.Phases[phase] = append(p.Phases[phase], s)
}

// Phases, create order. Leaves first, then everything that references them
// link by link up the load-balancer chain, with cleanup of rotated-out
// resources last.
const (
	phaseLeaves = iota
	phaseTemplate
	phaseGroup
	phaseBackend
	phaseURLMap
	phaseProxy
	phaseRule
	phaseCleanup
	phaseCount
)

// Plan diffs the desired deployment against a snapshot. Fingerprints stored
// on each resource decide between no-op, in-place update, and replacement;
// the instance template and certificate rotate under fingerprinted names
// instead of updating in place.
func (d *Deployment) Plan(state State) (*Plan, error) {
	p := &Plan{Phases: make([][]Step, phaseCount)}

	// Data disk: create if missing, grow if smaller, never shrink and
	// never delete.
	if d.DataDisk != nil {
		switch {
		case state.Disk == nil:
			p.add(phaseLeaves, Step{
				Kind:   KindDisk,
				Name:   d.DataDisk.Name,
				Action: ActionCreate,
			})
		case state.DiskSizeGB < d.DataDisk.SizeGB:
			p.add(phaseLeaves, Step{
				Kind:   KindDisk,
				Name:   d.DataDisk.Name,
				Action: ActionResize,
				Reason: fmt.Sprintf("grow %d->%dGB",
					state.DiskSizeGB, d.DataDisk.SizeGB),
			})
		}
	}

	if state.Address == nil {
		p.add(phaseLeaves, Step{
			Kind:   KindAddress,
			Name:   d.Address.Name,
			Action: ActionCreate,
		})
	}

	checkStates := map[string]*ResourceState{
		d.TCPCheck.Name: state.TCPCheck,
	}
	if d.HTTPCheck != nil {
		checkStates[d.HTTPCheck.Name] = state.HTTPCheck
	}
	for _, hc := range d.healthChecks() {
		if err := diffStep(p, phaseLeaves, KindHealthCheck, hc.Name,
			hc, checkStates[hc.Name]); err != nil {
			return nil, err
		}
	}

	if err := diffStep(p, phaseLeaves, KindFirewall, d.HealthFirewall.Name,
		d.HealthFirewall, state.Firewall); err != nil {
		return nil, err
	}

	if d.EgressRoute != nil {
		// Routes are immutable; a changed route is replaced.
		if err := diffReplace(p, phaseLeaves, KindRoute,
			d.EgressRoute.Name, *d.EgressRoute,
			state.Route); err != nil {
			return nil, err
		}
	}

	// Certificate: rotation by name. A domain change produces a new
	// fingerprinted name; the old certificate is swept in cleanup once
	// the proxy has moved over.
	certName, err := d.Certificate.FullName()
	if err != nil {
		return nil, fmt.Errorf("certificate name: %w", err)
	}
	haveCert := false
	for _, c := range state.Certificates {
		if c.Name == certName {
			haveCert = true
		}
	}
	if !haveCert {
		p.add(phaseLeaves, Step{
			Kind:   KindCertificate,
			Name:   certName,
			Action: ActionCreate,
		})
	}
	for _, c := range state.Certificates {
		if c.Name == certName {
			continue
		}
		p.add(phaseCleanup, Step{
			Kind:   KindCertificate,
			Name:   c.Name,
			Action: ActionDelete,
			Reason: "rotated out",
		})
	}

	// Template: any spec change produces a new fingerprinted name.
	templateName, err := d.TemplateName()
	if err != nil {
		return nil, fmt.Errorf("template name: %w", err)
	}
	haveTemplate := false
	for _, t := range state.Templates {
		if t.Name == templateName {
			haveTemplate = true
		}
	}
	if !haveTemplate {
		p.add(phaseTemplate, Step{
			Kind:   KindTemplate,
			Name:   templateName,
			Action: ActionCreate,
		})
	}
	// Stale templates are swept only once the group reports the new
	// template. The roll is asynchronous; a delete while it is still in
	// flight fails with resourceInUse, so mid-roll templates wait for a
	// later run.
	if state.GroupTemplate == templateName {
		for _, t := range state.Templates {
			if t.Name == templateName {
				continue
			}
			p.add(phaseCleanup, Step{
				Kind:   KindTemplate,
				Name:   t.Name,
				Action: ActionDelete,
				Reason: "rotated out",
			})
		}
	}

	// Group: created referencing the current template; afterwards at
	// most one patch per run. The API rejects overlapping mutations of
	// one manager, and steps within a phase run in parallel, so template
	// and policy changes collapse into a single step.
	groupFP, err := Fingerprint(d.Group)
	if err != nil {
		return nil, fmt.Errorf("fingerprint group: %w", err)
	}
	switch {
	case state.Group == nil:
		p.add(phaseGroup, Step{
			Kind:   KindGroup,
			Name:   d.Group.Name,
			Action: ActionCreate,
		})
	default:
		templateMoved := state.GroupTemplate != templateName
		policyMoved := state.Group.Fingerprint != groupFP
		switch {
		case templateMoved && policyMoved:
			p.add(phaseGroup, Step{
				Kind:   KindGroup,
				Name:   d.Group.Name,
				Action: ActionUpdate,
				Reason: fmt.Sprintf(
					"template %s->%s, policy changed",
					state.GroupTemplate, templateName),
			})
		case templateMoved:
			p.add(phaseGroup, Step{
				Kind:   KindGroup,
				Name:   d.Group.Name,
				Action: ActionReplace,
				Reason: fmt.Sprintf("template %s->%s",
					state.GroupTemplate, templateName),
			})
		case policyMoved:
			p.add(phaseGroup, Step{
				Kind:   KindGroup,
				Name:   d.Group.Name,
				Action: ActionUpdate,
				Reason: "policy changed",
			})
		}
	}

	if err := diffStep(p, phaseBackend, KindBackend, d.Backend.Name,
		d.Backend, state.Backend); err != nil {
		return nil, err
	}

	if err := diffStep(p, phaseURLMap, KindURLMap, d.URLMap.Name,
		d.URLMap, state.URLMap); err != nil {
		return nil, err
	}
	if d.RedirectURLMap != nil {
		if err := diffStep(p, phaseURLMap, KindURLMap,
			d.RedirectURLMap.Name, *d.RedirectURLMap,
			state.RedirectURLMap); err != nil {
			return nil, err
		}
	}

	if err := diffStep(p, phaseProxy, KindProxy, d.HTTPSProxy.Name,
		d.HTTPSProxy, state.HTTPSProxy); err != nil {
		return nil, err
	}
	if d.HTTPProxy != nil {
		if err := diffStep(p, phaseProxy, KindProxy, d.HTTPProxy.Name,
			*d.HTTPProxy, state.HTTPProxy); err != nil {
			return nil, err
		}
	}

	// Forwarding rules are immutable in the fields we set; replace on
	// change.
	if err := diffReplace(p, phaseRule, KindForwardingRule,
		d.HTTPSRule.Name, d.HTTPSRule, state.HTTPSRule); err != nil {
		return nil, err
	}
	if d.HTTPRule != nil {
		if err := diffReplace(p, phaseRule, KindForwardingRule,
			d.HTTPRule.Name, *d.HTTPRule, state.HTTPRule); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// diffStep plans a create for a missing resource and an in-place update for
// a fingerprint mismatch.
func diffStep(
	p *Plan,
	phase int,
	kind Kind,
	name string,
	desired any,
	actual *ResourceState,
) error {
	fp, err := Fingerprint(desired)
	if err != nil {
		return fmt.Errorf("fingerprint %s %s: %w", kind, name, err)
	}
	switch {
	case actual == nil:
		p.add(phase, Step{Kind: kind, Name: name, Action: ActionCreate})
	case actual.Fingerprint != fp:
		p.add(phase, Step{
			Kind:   kind,
			Name:   name,
			Action: ActionUpdate,
			Reason: "spec changed",
		})
	}
	return nil
}

// diffReplace plans a create for a missing resource and a delete-then-create
// for a fingerprint mismatch, for kinds the provider cannot patch.
func diffReplace(
	p *Plan,
	phase int,
	kind Kind,
	name string,
	desired any,
	actual *ResourceState,
) error {
	fp, err := Fingerprint(desired)
	if err != nil {
		return fmt.Errorf("fingerprint %s %s: %w", kind, name, err)
	}
	switch {
	case actual == nil:
		p.add(phase, Step{Kind: kind, Name: name, Action: ActionCreate})
	case actual.Fingerprint != fp:
		p.add(phase, Step{
			Kind:   kind,
			Name:   name,
			Action: ActionReplace,
			Reason: "spec changed",
		})
	}
	return nil
}

// DestroyPlan tears down every existing resource in reverse dependency
// order. The data disk is only included when deleteDisk is set; it carries
// the Atlantis working directory and survives destroys by default.
func (d *Deployment) DestroyPlan(state State, deleteDisk bool) *Plan {
	p := &Plan{}
	phase := 0
	next := func() int { phase++; return phase - 1 }

	del := func(ph int, kind Kind, rs *ResourceState) {
		if rs == nil {
			return
		}
		p.add(ph, Step{Kind: kind, Name: rs.Name, Action: ActionDelete})
	}

	ph := next()
	del(ph, KindForwardingRule, state.HTTPSRule)
	del(ph, KindForwardingRule, state.HTTPRule)

	ph = next()
	del(ph, KindProxy, state.HTTPSProxy)
	del(ph, KindProxy, state.HTTPProxy)

	ph = next()
	del(ph, KindURLMap, state.URLMap)
	del(ph, KindURLMap, state.RedirectURLMap)

	del(next(), KindBackend, state.Backend)
	del(next(), KindGroup, state.Group)

	ph = next()
	for i := range state.Templates {
		del(ph, KindTemplate, &state.Templates[i])
	}

	ph = next()
	for i := range state.Certificates {
		del(ph, KindCertificate, &state.Certificates[i])
	}
	del(ph, KindHealthCheck, state.TCPCheck)
	del(ph, KindHealthCheck, state.HTTPCheck)
	del(ph, KindFirewall, state.Firewall)
	del(ph, KindRoute, state.Route)
	del(ph, KindAddress, state.Address)

	if deleteDisk {
		del(next(), KindDisk, state.Disk)
	}
	return p
}
