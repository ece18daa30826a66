package atlantean

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Applier executes plans against a cloud store and records apply outputs.
type Applier struct {
	store   CloudStore
	records RecordStore
}

func NewApplier(store CloudStore, records RecordStore) *Applier {
	return &Applier{store: store, records: records}
}

// Apply runs every step in the plan, phase by phase. Steps within a phase
// run in parallel. After the last phase it snapshots the result and writes
// the deployment record.
func (a *Applier) Apply(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	plan *Plan,
) error {
	for i, phase := range plan.Phases {
		if len(phase) == 0 {
			continue
		}
		p := pool.New().WithErrors().WithContext(ctx)
		for _, step := range phase {
			step := step
			p.Go(func(ctx context.Context) error {
				log.Info("applying",
					slog.String("kind", string(step.Kind)),
					slog.String("name", step.Name),
					slog.String("action", string(step.Action)))
				if err := a.run(ctx, log, d, step); err != nil {
					return fmt.Errorf("%s %s %s: %w",
						step.Action, step.Kind,
						step.Name, err)
				}
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return fmt.Errorf("phase %d: %w", i, err)
		}
	}

	state, err := a.store.Snapshot(ctx, log, d)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if a.records != nil {
		if err := a.saveRecord(ctx, d, state); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
	}
	return nil
}

// Destroy snapshots the deployment and tears down whatever exists, in
// reverse dependency order. The data disk survives unless deleteDisk is
// set.
func (a *Applier) Destroy(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	deleteDisk bool,
) error {
	state, err := a.store.Snapshot(ctx, log, d)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	plan := d.DestroyPlan(state, deleteDisk)
	if plan.Empty() {
		return NothingToDo
	}
	for i, phase := range plan.Phases {
		if len(phase) == 0 {
			continue
		}
		p := pool.New().WithErrors().WithContext(ctx)
		for _, step := range phase {
			step := step
			p.Go(func(ctx context.Context) error {
				log.Info("destroying",
					slog.String("kind", string(step.Kind)),
					slog.String("name", step.Name))
				if err := a.run(ctx, log, d, step); err != nil {
					return fmt.Errorf("%s %s %s: %w",
						step.Action, step.Kind,
						step.Name, err)
				}
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return fmt.Errorf("phase %d: %w", i, err)
		}
	}
	if a.records != nil {
		if err := a.records.DeleteRecord(ctx, d.Name); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	}
	return nil
}

func (a *Applier) saveRecord(
	ctx context.Context,
	d *Deployment,
	state State,
) error {
	templateName, err := d.TemplateName()
	if err != nil {
		return fmt.Errorf("template name: %w", err)
	}
	rec := Record{
		Name:           d.Name,
		Mode:           d.Mode,
		Domain:         d.Certificate.Domains[0],
		GlobalIP:       state.AddressIP,
		InstanceGroup:  d.Group.Name,
		BackendService: d.Backend.Name,
		Template:       templateName,
		AppliedAt:      time.Now().UTC(),
	}
	return a.records.SetRecord(ctx, rec)
}

// run dispatches one step to the store.
func (a *Applier) run(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Kind {
	case KindDisk:
		return a.runDisk(ctx, log, d, s)
	case KindTemplate:
		return a.runTemplate(ctx, log, d, s)
	case KindGroup:
		return a.runGroup(ctx, log, d, s)
	case KindHealthCheck:
		return a.runHealthCheck(ctx, log, d, s)
	case KindFirewall:
		return a.runFirewall(ctx, log, d, s)
	case KindRoute:
		return a.runRoute(ctx, log, d, s)
	case KindAddress:
		return a.runAddress(ctx, log, d, s)
	case KindCertificate:
		return a.runCertificate(ctx, log, d, s)
	case KindBackend:
		return a.runBackend(ctx, log, d, s)
	case KindURLMap:
		return a.runURLMap(ctx, log, d, s)
	case KindProxy:
		return a.runProxy(ctx, log, d, s)
	case KindForwardingRule:
		return a.runForwardingRule(ctx, log, d, s)
	}
	return fmt.Errorf("unknown kind %q", s.Kind)
}

func (a *Applier) runDisk(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateDisk(ctx, log, *d.DataDisk)
	case ActionResize:
		return a.store.ResizeDisk(ctx, log, s.Name, d.DataDisk.SizeGB)
	case ActionDelete:
		return a.store.DeleteDisk(ctx, log, s.Name)
	}
	return fmt.Errorf("disk: unsupported action %q", s.Action)
}

func (a *Applier) runTemplate(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateTemplate(ctx, log, d.Template)
	case ActionDelete:
		return a.store.DeleteTemplate(ctx, log, s.Name)
	}
	return fmt.Errorf("template: unsupported action %q", s.Action)
}

func (a *Applier) runGroup(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	templateName, err := d.TemplateName()
	if err != nil {
		return fmt.Errorf("template name: %w", err)
	}
	// The update patch carries the template link too, so a combined
	// template and policy change lands as one mutation.
	g := d.Group
	g.TemplateName = templateName
	switch s.Action {
	case ActionCreate:
		return a.store.CreateGroup(ctx, log, g)
	case ActionReplace:
		return a.store.SetGroupTemplate(ctx, log, g.Name, templateName)
	case ActionUpdate:
		return a.store.UpdateGroup(ctx, log, g)
	case ActionDelete:
		return a.store.DeleteGroup(ctx, log, s.Name)
	}
	return fmt.Errorf("group: unsupported action %q", s.Action)
}

func (a *Applier) runHealthCheck(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	if s.Action == ActionDelete {
		return a.store.DeleteHealthCheck(ctx, log, s.Name)
	}
	var hc HealthCheck
	switch s.Name {
	case d.TCPCheck.Name:
		hc = d.TCPCheck
	default:
		if d.HTTPCheck == nil || s.Name != d.HTTPCheck.Name {
			return fmt.Errorf("no health check named %q", s.Name)
		}
		hc = *d.HTTPCheck
	}
	switch s.Action {
	case ActionCreate:
		return a.store.CreateHealthCheck(ctx, log, hc)
	case ActionUpdate:
		return a.store.UpdateHealthCheck(ctx, log, hc)
	}
	return fmt.Errorf("health check: unsupported action %q", s.Action)
}

func (a *Applier) runFirewall(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateFirewall(ctx, log, d.HealthFirewall)
	case ActionUpdate:
		return a.store.UpdateFirewall(ctx, log, d.HealthFirewall)
	case ActionDelete:
		return a.store.DeleteFirewall(ctx, log, s.Name)
	}
	return fmt.Errorf("firewall: unsupported action %q", s.Action)
}

func (a *Applier) runRoute(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateRoute(ctx, log, *d.EgressRoute)
	case ActionReplace:
		if err := a.store.DeleteRoute(ctx, log, s.Name); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return a.store.CreateRoute(ctx, log, *d.EgressRoute)
	case ActionDelete:
		return a.store.DeleteRoute(ctx, log, s.Name)
	}
	return fmt.Errorf("route: unsupported action %q", s.Action)
}

func (a *Applier) runAddress(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateAddress(ctx, log, d.Address)
	case ActionDelete:
		return a.store.DeleteAddress(ctx, log, s.Name)
	}
	return fmt.Errorf("address: unsupported action %q", s.Action)
}

func (a *Applier) runCertificate(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateCertificate(ctx, log, d.Certificate)
	case ActionDelete:
		return a.store.DeleteCertificate(ctx, log, s.Name)
	}
	return fmt.Errorf("certificate: unsupported action %q", s.Action)
}

func (a *Applier) runBackend(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	switch s.Action {
	case ActionCreate:
		return a.store.CreateBackend(ctx, log, d.Backend)
	case ActionUpdate:
		return a.store.UpdateBackend(ctx, log, d.Backend)
	case ActionDelete:
		return a.store.DeleteBackend(ctx, log, s.Name)
	}
	return fmt.Errorf("backend: unsupported action %q", s.Action)
}

func (a *Applier) runURLMap(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	if s.Action == ActionDelete {
		return a.store.DeleteURLMap(ctx, log, s.Name)
	}
	var m URLMap
	switch {
	case s.Name == d.URLMap.Name:
		m = d.URLMap
	case d.RedirectURLMap != nil && s.Name == d.RedirectURLMap.Name:
		m = *d.RedirectURLMap
	default:
		return fmt.Errorf("no url map named %q", s.Name)
	}
	switch s.Action {
	case ActionCreate:
		return a.store.CreateURLMap(ctx, log, m)
	case ActionUpdate:
		return a.store.UpdateURLMap(ctx, log, m)
	}
	return fmt.Errorf("url map: unsupported action %q", s.Action)
}

func (a *Applier) runProxy(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	var p TargetProxy
	switch {
	case s.Name == d.HTTPSProxy.Name:
		p = d.HTTPSProxy
	case d.HTTPProxy != nil && s.Name == d.HTTPProxy.Name:
		p = *d.HTTPProxy
	default:
		return fmt.Errorf("no proxy named %q", s.Name)
	}
	switch s.Action {
	case ActionCreate:
		return a.store.CreateProxy(ctx, log, p)
	case ActionUpdate:
		return a.store.UpdateProxy(ctx, log, p)
	case ActionDelete:
		return a.store.DeleteProxy(ctx, log, p)
	}
	return fmt.Errorf("proxy: unsupported action %q", s.Action)
}

func (a *Applier) runForwardingRule(
	ctx context.Context,
	log *slog.Logger,
	d *Deployment,
	s Step,
) error {
	var r ForwardingRule
	switch {
	case s.Name == d.HTTPSRule.Name:
		r = d.HTTPSRule
	case d.HTTPRule != nil && s.Name == d.HTTPRule.Name:
		r = *d.HTTPRule
	default:
		return fmt.Errorf("no forwarding rule named %q", s.Name)
	}
	switch s.Action {
	case ActionCreate:
		return a.store.CreateForwardingRule(ctx, log, r)
	case ActionReplace:
		if err := a.store.DeleteForwardingRule(ctx, log, r); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return a.store.CreateForwardingRule(ctx, log, r)
	case ActionDelete:
		return a.store.DeleteForwardingRule(ctx, log, r)
	}
	return fmt.Errorf("forwarding rule: unsupported action %q", s.Action)
}
