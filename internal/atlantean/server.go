package atlantean

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/thejerf/suture/v4"
)

// Server runs the reconciler continuously, converging the deployment back
// onto its declared shape whenever something drifts.
type Server struct {
	log     *slog.Logger
	applier *Applier
	store   CloudStore

	deployment *Deployment
	interval   time.Duration

	lastPlan   *Plan
	lastSync   time.Time
	lastPlanMu deadlock.RWMutex

	supervisor *suture.Supervisor
}

type ServerOpts struct {
	Log        *slog.Logger
	Store      CloudStore
	Records    RecordStore
	Deployment *Deployment

	// Interval between reconcile passes. Zero means one minute.
	Interval time.Duration
}

func NewServer(opts ServerOpts) *Server {
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	supervisor := suture.New("server", suture.Spec{
		EventHook: func(ev suture.Event) {
			opts.Log.Error("event hook",
				slog.String("error", ev.String()))
		},
	})
	s := &Server{
		log:        opts.Log,
		applier:    NewApplier(opts.Store, opts.Records),
		store:      opts.Store,
		deployment: opts.Deployment,
		interval:   opts.Interval,
		supervisor: supervisor,
	}
	_ = s.supervisor.Add(&reconciler{
		server: s,
		log:    s.log.With(slog.String("task", "reconciler")),
	})
	return s
}

// Serve blocks until the context is canceled, reconciling on the configured
// interval.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("starting server",
		slog.String("deployment", s.deployment.Name),
		slog.Duration("interval", s.interval))
	if err := s.supervisor.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// LastSync reports the last completed reconcile pass and the plan it
// executed. A nil plan means no pass has completed yet.
func (s *Server) LastSync() (*Plan, time.Time) {
	s.lastPlanMu.RLock()
	defer s.lastPlanMu.RUnlock()
	return s.lastPlan, s.lastSync
}

func (s *Server) setLastSync(p *Plan) {
	s.lastPlanMu.Lock()
	defer s.lastPlanMu.Unlock()
	s.lastPlan = p
	s.lastSync = time.Now()
}

type reconciler struct {
	server *Server
	log    *slog.Logger
}

func (r *reconciler) Serve(ctx context.Context) error {
	sync := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		r.log.Debug("reconciling")

		s := r.server
		state, err := s.store.Snapshot(ctx, r.log, s.deployment)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		plan, err := s.deployment.Plan(state)
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		if plan.Empty() {
			r.log.Debug("in sync")
			s.setLastSync(plan)
			return nil
		}
		r.log.Info("drift detected",
			slog.Int("steps", len(plan.Steps())))
		err = s.applier.Apply(ctx, r.log, s.deployment, plan)
		if err != nil && !errors.Is(err, NothingToDo) {
			return fmt.Errorf("apply: %w", err)
		}
		s.setLastSync(plan)
		return nil
	}

	for {
		if err := sync(ctx); err != nil {
			// The supervisor restarts us with backoff.
			return fmt.Errorf("sync: %w", err)
		}
		select {
		case <-time.After(r.server.interval):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
