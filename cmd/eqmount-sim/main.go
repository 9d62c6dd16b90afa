package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/unklstewy/eqmount/internal/db"
	"github.com/unklstewy/eqmount/internal/logging"
	"github.com/unklstewy/eqmount/internal/observability"
	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/config"
	"github.com/unklstewy/eqmount/pkg/controller"
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/mount"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// main runs the mount controller against the simulated mount.
func main() {
	defaultConfig := os.Getenv("EQMOUNT_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/eqmount.yaml"
	}

	configPath := flag.String("config", defaultConfig, "Path to JSON or YAML config file")
	gotoTarget := flag.String("goto", "", "Goto target as \"RA,DEC\" (hours, degrees)")
	autoHome := flag.Bool("autohome", false, "Run auto home before anything else")
	track := flag.Bool("track", false, "Start tracking at the configured rate")
	park := flag.Bool("park", false, "Park when the run ends")
	duration := flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger, options{
		gotoTarget: *gotoTarget,
		autoHome:   *autoHome,
		track:      *track,
		park:       *park,
		duration:   *duration,
	}); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Fatalf("eqmount-sim failed: %v", err)
	}
}

type options struct {
	gotoTarget string
	autoHome   bool
	track      bool
	park       bool
	duration   time.Duration
}

func run(cfg *config.Config, logger *zap.SugaredLogger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	logger.Infof("Observer: lat=%.4f, lon=%.4f, elev=%.1fm",
		cfg.Observer.Latitude, cfg.Observer.Longitude, cfg.Observer.Elevation)

	var target *coordinates.EquatorialCoordinates
	if opts.gotoTarget != "" {
		t, err := parseTarget(opts.gotoTarget)
		if err != nil {
			return err
		}
		target = &t
	}

	collector, err := observability.NewMountCollector(nil)
	if err != nil {
		return errors.Wrap(err, "metrics")
	}

	ctlOpts, err := controllerOptions(cfg, logger)
	if err != nil {
		return err
	}
	ctlOpts.Metrics = collector

	var recorder *db.Recorder
	if cfg.Database.Enabled {
		recorder, err = openRecorder(ctx, cfg.Database, logger.Named("db"))
		if err != nil {
			return err
		}
		defer recorder.Close()
		ctlOpts.Recorder = recorder
	}

	simOpts := mount.DefaultSimulatorOptions()
	simOpts.SlewSpeed = cfg.Mount.Simulator.SlewSpeed
	simOpts.SlewScale = cfg.Mount.Simulator.SlewScale
	simOpts.InstantSlew = cfg.Mount.Simulator.InstantSlew
	simOpts.PPEC = cfg.Mount.UsePPEC
	sim := mount.NewSimulator(simOpts)

	ctl := controller.New(sim, ctlOpts)
	if err := ctl.Init(); err != nil {
		return errors.Wrap(err, "init mount")
	}

	var dbHealthy func(context.Context) bool
	if recorder != nil {
		restoreHistory(ctx, recorder, ctl, logger)
		go recorder.Maintain(ctx, cfg.Database, cfg.Database.CheckInterval(), logger.Named("db"))
		dbHealthy = recorder.Healthy
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: newMux(cfg, collector, ctl, dbHealthy)}
		go func() {
			logger.Infof("Serving metrics on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	go func() {
		if err := sim.Run(ctx, ctl.PollPeriod()/2); err != nil && ctx.Err() == nil {
			logger.Warnf("Simulator stopped: %v", err)
		}
	}()

	if err := startOperations(ctx, cfg, ctl, target, opts, logger); err != nil {
		ctl.Abort()
		return err
	}

	go logStatus(ctx, ctl, logger)
	err = ctl.Run(ctx)

	if aerr := ctl.Abort(); aerr != nil {
		logger.Warnf("Abort failed: %v", aerr)
	}
	if opts.park {
		parkMount(ctl, sim, logger)
	}
	return err
}

// openRecorder connects to the database, prepares the schema and drops
// history past the retention period.
func openRecorder(ctx context.Context, cfg config.DatabaseConfig, logger *zap.SugaredLogger) (*db.Recorder, error) {
	conn, err := db.ReconnectWithRetry(ctx, cfg, 3, time.Second, logger)
	if err != nil {
		return nil, errors.Wrap(err, "database")
	}
	if err := conn.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if retention := cfg.Retention(); retention > 0 {
		if err := conn.CleanupOldData(ctx, retention); err != nil {
			logger.Warnf("Failed to clean up alignment history: %v", err)
		}
	}
	if stats, err := conn.GetStats(ctx); err == nil {
		logger.Infof("Alignment history: %d sync points, %d polar estimates",
			stats["sync_points"], stats["polar_alignments"])
	}

	logger.Infof("Recording alignment history to %s@%s:%d/%s",
		cfg.Username, cfg.Host, cfg.Port, cfg.Database)
	return db.NewRecorder(conn), nil
}

// restoreHistory seeds the controller with the stored sync points and polar
// estimate. A failure only costs the history.
func restoreHistory(ctx context.Context, recorder *db.Recorder, ctl *controller.Controller, logger *zap.SugaredLogger) {
	points, polar, err := recorder.Load(ctx)
	if err != nil {
		logger.Warnf("Failed to load alignment history: %v", err)
		return
	}
	ctl.Restore(points, polar)
}

// parkMount parks and waits for the slew. The run context has ended by now,
// so the simulator gets its own.
func parkMount(ctl *controller.Controller, sim *mount.Simulator, logger *zap.SugaredLogger) {
	logger.Infof("Parking")
	if err := ctl.Park(); err != nil {
		logger.Warnf("Park failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	go sim.Run(ctx, ctl.PollPeriod()/2)

	if err := waitIdle(ctx, ctl, func(s controller.Status) bool { return s.Flags.Parking }); err != nil {
		logger.Warnf("Park did not complete: %v", err)
		return
	}
	logger.Infof("Mount parked")
}

// startOperations runs auto home to completion when requested, then starts
// tracking and the goto.
func startOperations(ctx context.Context, cfg *config.Config, ctl *controller.Controller,
	target *coordinates.EquatorialCoordinates, opts options, logger *zap.SugaredLogger) error {
	if opts.autoHome {
		if err := ctl.StartAutoHome(); err != nil {
			return err
		}
		if err := waitIdle(ctx, ctl, func(s controller.Status) bool { return s.Flags.Homing }); err != nil {
			return errors.Wrap(err, "auto home")
		}
		if !ctl.Status().Flags.Homed {
			return errors.New("auto home did not complete")
		}
	}

	if opts.track {
		kind, err := tracking.ParseKind(cfg.Tracking.Mode)
		if err != nil {
			return err
		}
		if err := ctl.StartTracking(kind); err != nil {
			return err
		}
	}

	if target != nil {
		logger.Infof("Goto RA %.4fh Dec %.4f°", target.RightAscension, target.Declination)
		if err := ctl.Goto(*target, coordinates.PierUnknown); err != nil {
			return err
		}
	}
	return nil
}

// waitIdle ticks the controller until busy reports false.
func waitIdle(ctx context.Context, ctl *controller.Controller, busy func(controller.Status) bool) error {
	ticker := time.NewTicker(ctl.PollPeriod())
	defer ticker.Stop()

	for {
		st, err := ctl.RefreshStatus()
		if err != nil {
			return err
		}
		if !busy(st) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func logStatus(ctx context.Context, ctl *controller.Controller, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := ctl.Status()
			logger.Infof("RA %.4fh Dec %.4f° pier %s alt %.2f° slewing=%v tracking=%v homing=%v",
				st.Sky.RightAscension, st.Sky.Declination, st.Pose.PierSide,
				st.Horizontal.Altitude, st.Flags.Slewing, st.Flags.Tracking, st.Flags.Homing)
		}
	}
}

func controllerOptions(cfg *config.Config, logger *zap.SugaredLogger) (controller.Options, error) {
	var model alignment.Model
	if cfg.Alignment.Strategy == alignment.StrategyPlugin {
		model = alignment.NewNearestPointModel(cfg.Alignment.MaxPoints)
	}
	strategy, err := alignment.NewStrategy(cfg.Alignment.Strategy, model, logger.Named("alignment"))
	if err != nil {
		return controller.Options{}, err
	}

	poll := cfg.Mount.PollPeriod()
	opts := controller.DefaultOptions()
	opts.Observer = cfg.Observer.Location()
	opts.Logger = logger
	opts.Strategy = strategy
	opts.Tracking = cfg.Tracking.Settings(cfg.Mount.ReverseDEC)
	opts.TrackingLimits = cfg.Tracking.Limits()
	opts.Goto = cfg.Goto.SlewConfig()
	opts.Guide = cfg.Guide.PulseConfig()
	opts.AutoHome = cfg.AutoHome.HomeConfig(poll)
	opts.Limits = cfg.Goto.ExplicitLimits()
	opts.PollPeriod = poll
	opts.PolarTolerance = cfg.Alignment.PolarToleranceDegrees
	if !cfg.Park.UseHome {
		opts.Park = &controller.ParkPosition{RA: cfg.Park.RA, DE: cfg.Park.DE}
	}
	return opts, nil
}

// parseTarget parses "RA,DEC" with RA in hours and DEC in degrees.
func parseTarget(s string) (coordinates.EquatorialCoordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return coordinates.EquatorialCoordinates{}, errors.Errorf("goto target %q is not RA,DEC", s)
	}
	ra, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return coordinates.EquatorialCoordinates{}, errors.Wrap(err, "goto RA")
	}
	dec, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return coordinates.EquatorialCoordinates{}, errors.Wrap(err, "goto DEC")
	}
	if ra < 0 || ra >= 24 || dec < -90 || dec > 90 {
		return coordinates.EquatorialCoordinates{}, errors.Errorf("goto target %q out of range", s)
	}
	return coordinates.EquatorialCoordinates{RightAscension: ra, Declination: dec}, nil
}

func newMux(cfg *config.Config, collector *observability.MountCollector, ctl *controller.Controller,
	dbHealthy func(context.Context) bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, collector.Handler())
	mux.HandleFunc("/health", handleHealth(dbHealthy))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(w, ctl.Status())
	})
	return mux
}

// handleHealth provides a health check endpoint for container orchestration.
// dbHealthy is nil when no database is configured.
func handleHealth(dbHealthy func(context.Context) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if dbHealthy != nil && !dbHealthy(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"degraded","database":"unavailable"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok"}`)
	}
}

type statusResponse struct {
	Time      time.Time                         `json:"time"`
	LST       float64                           `json:"lst"`
	Sky       coordinates.EquatorialCoordinates `json:"sky"`
	Mount     coordinates.EquatorialCoordinates `json:"mount"`
	PierSide  string                            `json:"pier_side"`
	Altitude  float64                           `json:"altitude"`
	Azimuth   float64                           `json:"azimuth"`
	RACounts  int64                             `json:"ra_counts"`
	DECounts  int64                             `json:"de_counts"`
	Flags     controller.MotionFlags            `json:"flags"`
	Syncs     int                               `json:"syncs"`
	Polar     *alignment.PolarEstimate          `json:"polar,omitempty"`
	LastError string                            `json:"last_error,omitempty"`
}

func handleStatus(w http.ResponseWriter, st controller.Status) {
	resp := statusResponse{
		Time:     st.Time,
		LST:      st.LST,
		Sky:      st.Sky,
		Mount:    st.Pose.Equatorial(),
		PierSide: st.Pose.PierSide.String(),
		Altitude: st.Horizontal.Altitude,
		Azimuth:  st.Horizontal.Azimuth,
		RACounts: st.RA.Position,
		DECounts: st.DE.Position,
		Flags:    st.Flags,
		Syncs:    st.Syncs,
		Polar:    st.Polar,
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
