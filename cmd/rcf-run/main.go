// Command rcf-run places the elements of a run record with the robot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/clayfab/internal/config"
	"github.com/banshee-data/clayfab/internal/driverctl"
	"github.com/banshee-data/clayfab/internal/fabrun"
	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/rrc"
	"github.com/banshee-data/clayfab/internal/rundb"
	"github.com/banshee-data/clayfab/internal/sensor"
	"github.com/banshee-data/clayfab/internal/sequencer"
	"github.com/banshee-data/clayfab/internal/serialport"
	"github.com/banshee-data/clayfab/internal/version"
)

// deps are the outside world as seen by run.
type deps struct {
	dial    func(ctx context.Context, address string, opts rrc.DialOptions) (io.ReadWriteCloser, error)
	builder driverctl.CommandBuilder
	stdout  io.Writer
}

type options struct {
	configPath  string
	runPath     string
	stationPath string
	start       int
	dbPath      string
	debugListen string
	verbose     bool
	dryRun      bool
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rcf-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Robot configuration file (.yaml, .yml or .json)")
	fs.StringVar(&o.runPath, "run", "", "Run record to place (required)")
	fs.StringVar(&o.stationPath, "pick-station", "", "Pick station file (required)")
	fs.IntVar(&o.start, "start", 0, "Index of the first element to place")
	fs.StringVar(&o.dbPath, "db", "", "Optional sqlite run archive")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Serve /debug routes on this address")
	fs.BoolVar(&o.verbose, "verbose", false, "Log every command")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print container restarts instead of running them")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.version {
		return o, nil
	}
	if o.runPath == "" || o.stationPath == "" {
		return o, errors.New("-run and -pick-station are required")
	}
	if o.start < 0 {
		return o, fmt.Errorf("-start must be non-negative, got %d", o.start)
	}
	return o, nil
}

func run(ctx context.Context, args []string, d deps) error {
	o, err := parseFlags(args, d.stdout)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(d.stdout, version.String("rcf-run"))
		return nil
	}

	logger, err := monitoring.NewZapLogger(o.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	cfg, err := config.LoadRobotConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.dryRun {
		cfg.Docker.DryRun = true
	}

	restarter, err := driverctl.NewRestarter(driverctl.Config{
		Container: cfg.Docker.Container,
		Host:      cfg.Docker.Host,
		SSHUser:   cfg.Docker.SSHUser,
		SSHKey:    cfg.Docker.SSHKey,
		DryRun:    cfg.Docker.DryRun,
	}, d.builder)
	if err != nil {
		return fmt.Errorf("failed to set up container restarts: %w", err)
	}

	seqOpts := sequencer.Options{Restarter: restarter}
	if cfg.Tools.DistSensor.Enabled() {
		s, err := sensor.Open(cfg.Tools.DistSensor.SerialPort, cfg.Tools.DistSensor.SerialOptions(), nil)
		if err != nil {
			return fmt.Errorf("failed to open distance sensor: %w", err)
		}
		defer s.Close()
		seqOpts.Sensor = s
	}

	conn, err := d.dial(ctx, cfg.Link.Address, rrc.DialOptions{
		Serial:      serialport.Options{BaudRate: cfg.Link.BaudRate},
		DialTimeout: cfg.Link.CommandTimeout(),
	})
	if err != nil {
		return err
	}
	link := rrc.NewLink(conn)
	defer link.Close()
	client := rrc.NewClient(link)

	seq := sequencer.New(client, *cfg, seqOpts)
	runOpts := fabrun.Options{}
	var db *rundb.DB
	if o.dbPath != "" {
		db, err = rundb.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runOpts.Archive = db
	}
	runner := fabrun.NewRunner(seq, fabrun.Config{
		RunPath:         o.runPath,
		PickStationPath: o.stationPath,
		StartIndex:      o.start,
		WatchTimeout:    cfg.Link.WatchTimeout(),
	}, runOpts)

	if o.debugListen != "" {
		mux := http.NewServeMux()
		client.AttachAdminRoutes(mux)
		runner.AttachAdminRoutes(mux)
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		srv := &http.Server{Addr: o.debugListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Logf("debug server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("debug server shutdown: %v", err)
			}
		}()
		logger.Info("debug routes listening", zap.String("addr", o.debugListen))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := link.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("controller link: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := client.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	err = g.Wait()

	state := runner.State()
	logger.Info("run finished",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)),
		zap.Int("placed", state.Placed),
		zap.Int("skipped", state.Skipped),
		zap.Int("total", state.Total))
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], deps{dial: rrc.Dial, stdout: os.Stdout})
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("rcf-run: %v", err)
	}
}
