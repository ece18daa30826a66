package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlantean-sh/atlantean/internal/atlantean"
	"github.com/atlantean-sh/atlantean/internal/google"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/lmittmann/tint"
)

func main() {
	if err := run(); err != nil {
		switch {
		case errors.Is(err, emptyArgError("")):
			usage()
		case errors.Is(err, atlantean.NothingToDo):
			fmt.Println("no changes")
			return
		default:
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", atlantean.ConfigName,
		"config filepath")
	forceDisk := flag.Bool("force-disk", false,
		"delete the data disk on destroy")
	interval := flag.Duration("interval", time.Minute,
		"reconcile interval for watch")
	flag.Parse()

	arg, tail := parseArg(flag.Args())
	switch arg {
	case "plan":
		return plan(tail, *configPath)
	case "apply":
		return apply(tail, *configPath)
	case "destroy":
		return destroy(tail, *configPath, *forceDisk)
	case "status":
		return status(tail, *configPath)
	case "watch":
		return watch(tail, *configPath, *interval)
	case "version":
		fmt.Println("v0.1.0")
		return nil
	case "", "help":
		return emptyArgError("")
	default:
		return badArgError(arg)
	}
}

// setup wires the config, logger and stores every command shares.
func setup(configPath string) (
	atlantean.Config,
	*slog.Logger,
	*google.GCP,
	atlantean.RecordStore,
	error,
) {
	var zero atlantean.Config
	conf, err := atlantean.ParseConfig(configPath)
	if err != nil {
		return zero, nil, nil, nil,
			fmt.Errorf("parse config: %w", err)
	}
	log := newLogger(conf.Log)
	gcp, err := google.NewGCP(atlantean.HTTPClient(), nil, conf.Project,
		conf.Region, conf.Zone)
	if err != nil {
		return zero, nil, nil, nil, fmt.Errorf("new gcp: %w", err)
	}
	var records atlantean.RecordStore
	if conf.Store != "" {
		records = google.NewBucket(conf.Store)
	}
	return conf, log, gcp, records, nil
}

func newLogger(conf atlantean.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	if conf.Level == atlantean.LogLevelDebug {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	switch conf.Format {
	case atlantean.LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr,
			&slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}

// buildDeployment resolves the boot image and pins the container image, then
// expands the config into the full resource set.
func buildDeployment(
	ctx context.Context,
	log *slog.Logger,
	conf atlantean.Config,
	gcp *google.GCP,
) (*atlantean.Deployment, error) {
	bootImage, err := gcp.ResolveImage(ctx, log, conf.ImageProject,
		conf.ImageFamily)
	if err != nil {
		return nil, fmt.Errorf("resolve image: %w", err)
	}
	containerImage, err := pinImage(conf.ContainerImage)
	if err != nil {
		return nil, fmt.Errorf("pin image: %w", err)
	}
	d, err := atlantean.NewDeployment(conf, bootImage, containerImage)
	if err != nil {
		return nil, fmt.Errorf("new deployment: %w", err)
	}
	return d, nil
}

// pinImage resolves a tag reference to its digest so a moved tag rolls the
// template. Already-pinned references pass through untouched.
func pinImage(ref string) (string, error) {
	if strings.Contains(ref, "@sha256:") {
		return ref, nil
	}
	digest, err := crane.Digest(ref)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", ref, err)
	}
	return ref + "@" + digest, nil
}

func plan(args []string, configPath string) error {
	if len(args) != 0 {
		return errors.New("unknown arguments")
	}
	conf, log, gcp, _, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeployment(ctx, log, conf, gcp)
	if err != nil {
		return err
	}
	state, err := gcp.Snapshot(ctx, log, d)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	p, err := d.Plan(state)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	fmt.Print(p.String())
	if !p.Empty() {
		fmt.Printf("\n%d changes\n", len(p.Steps()))
	}
	return nil
}

func apply(args []string, configPath string) error {
	if len(args) != 0 {
		return errors.New("unknown arguments")
	}
	conf, log, gcp, records, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeployment(ctx, log, conf, gcp)
	if err != nil {
		return err
	}
	state, err := gcp.Snapshot(ctx, log, d)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	p, err := d.Plan(state)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if p.Empty() {
		return atlantean.NothingToDo
	}
	fmt.Print(p.String())

	applier := atlantean.NewApplier(gcp, records)
	if err := applier.Apply(ctx, log, d, p); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	fmt.Println("applied")
	return nil
}

func destroy(args []string, configPath string, forceDisk bool) error {
	if len(args) != 0 {
		return errors.New("unknown arguments")
	}
	conf, log, gcp, records, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeployment(ctx, log, conf, gcp)
	if err != nil {
		return err
	}
	applier := atlantean.NewApplier(gcp, records)
	if err := applier.Destroy(ctx, log, d, forceDisk); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	fmt.Println("destroyed")
	return nil
}

func status(args []string, configPath string) error {
	arg, tail := parseArg(args)
	if len(tail) != 0 {
		return badArgError(tail[0])
	}
	switch arg {
	case "", "all":
	default:
		return badArgError(arg)
	}
	conf, log, gcp, records, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	// "status all" lists every deployment recorded in the store, not
	// just the one this config names.
	if arg == "all" {
		if records == nil {
			return errors.New("no record store configured")
		}
		recs, err := records.GetRecords(ctx)
		if err != nil {
			return fmt.Errorf("get records: %w", err)
		}
		byt, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		fmt.Println(string(byt))
		return nil
	}

	if records != nil {
		rec, err := records.GetRecord(ctx, conf.Name)
		switch {
		case errors.Is(err, atlantean.Missing):
			fmt.Println("never applied")
			return nil
		case err != nil:
			return fmt.Errorf("get record: %w", err)
		}
		byt, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		fmt.Println(string(byt))
		return nil
	}

	d, err := buildDeployment(ctx, log, conf, gcp)
	if err != nil {
		return err
	}
	state, err := gcp.Snapshot(ctx, log, d)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	p, err := d.Plan(state)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	switch {
	case state.Address == nil:
		fmt.Println("not deployed")
	case p.Empty():
		fmt.Printf("in sync, ip %s\n", state.AddressIP)
	default:
		fmt.Printf("drifted, ip %s, %d pending changes\n",
			state.AddressIP, len(p.Steps()))
	}
	return nil
}

func watch(args []string, configPath string, interval time.Duration) error {
	if len(args) != 0 {
		return errors.New("unknown arguments")
	}
	conf, log, gcp, records, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeployment(ctx, log, conf, gcp)
	if err != nil {
		return err
	}
	srv := atlantean.NewServer(atlantean.ServerOpts{
		Log:        log,
		Store:      gcp,
		Records:    records,
		Deployment: d,
		Interval:   interval,
	})
	err = srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
}

// parseArg splits the arguments into a head and tail.
func parseArg(args []string) (string, []string) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return args[0], nil
	default:
		return args[0], args[1:]
	}
}

type emptyArgError string

func (e emptyArgError) Error() string {
	return fmt.Sprintf("usage: atlantean %s", string(e))
}

type badArgError string

func (e badArgError) Error() string {
	return fmt.Sprintf("unknown argument: %s", string(e))
}

func usage() {
	fmt.Println(`usage: atlantean [plan|apply|destroy|status|watch|version] ...`)
}
