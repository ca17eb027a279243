// Command localize runs a simulated robot through a scenario and localizes
// it with either a grid (Markov) filter or a particle filter.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/localizer/internal/api"
	"github.com/banshee-data/localizer/internal/config"
	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/monitoring"
	"github.com/banshee-data/localizer/internal/motion"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/report"
	"github.com/banshee-data/localizer/internal/robot"
	"github.com/banshee-data/localizer/internal/sensor"
	"github.com/banshee-data/localizer/internal/sim"
	"github.com/banshee-data/localizer/internal/storage/sqlite"
	"github.com/banshee-data/localizer/internal/timeutil"
	"github.com/banshee-data/localizer/internal/version"
	"github.com/banshee-data/localizer/internal/world"
)

// options holds everything the command line can set.
type options struct {
	configPath string
	strategy   string
	sensor     string
	motion     string
	steps      int
	actions    string
	seed       uint64
	realtime   bool
	plotsDir   string
	dbPath     string
	logPath    string
	listen     string
	version    bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", "", "Scenario config JSON (defaults built in when empty)")
	fs.StringVar(&o.strategy, "strategy", "markov", "Localizer: markov or particle")
	fs.StringVar(&o.sensor, "sensor", "", "Sensor model: exact or noisy (default exact for markov, noisy for particle)")
	fs.StringVar(&o.motion, "motion", "exact", "Motion model: exact or noisy")
	fs.IntVar(&o.steps, "steps", 50, "Number of random actions when -actions is empty")
	fs.StringVar(&o.actions, "actions", "", "Scripted actions, e.g. FFLRB")
	fs.Uint64Var(&o.seed, "seed", 0, "Random seed (0 uses the config seed)")
	fs.BoolVar(&o.realtime, "realtime", false, "Pace actions at the config step interval")
	fs.StringVar(&o.plotsDir, "plots", "", "Write belief/particle plots under this directory")
	fs.StringVar(&o.dbPath, "db", "", "Record the run to this SQLite database")
	fs.StringVar(&o.logPath, "log", "", "Write diagnostics to this rotating log file")
	fs.StringVar(&o.listen, "listen", "", "Serve the debug API on this address, e.g. :8080")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch o.strategy {
	case "markov":
		if o.sensor == "" {
			o.sensor = "exact"
		}
	case "particle":
		if o.sensor == "" {
			o.sensor = "noisy"
		}
	default:
		return o, fmt.Errorf("unknown -strategy %q (want markov or particle)", o.strategy)
	}
	for name, v := range map[string]string{"sensor": o.sensor, "motion": o.motion} {
		if v != "exact" && v != "noisy" {
			return o, fmt.Errorf("unknown -%s %q (want exact or noisy)", name, v)
		}
	}
	// The exact sensor scores every continuous particle zero.
	if o.strategy == "particle" && o.sensor == "exact" {
		return o, errors.New("-strategy particle requires -sensor noisy")
	}
	if o.actions == "" && o.steps < 1 {
		return o, fmt.Errorf("-steps must be at least 1, got %d", o.steps)
	}
	return o, nil
}

// rig is a fully wired robot and localizer.
type rig struct {
	cfg   *config.ScenarioConfig
	world *world.World
	robot robot.Robot
	loc   localization.Strategy
	seed  uint64
}

func loadConfig(path string) (*config.ScenarioConfig, error) {
	if path == "" {
		return config.DefaultScenarioConfig(), nil
	}
	return config.LoadScenarioConfig(path)
}

// buildRig wires world, sensor, motion, localizer and robot. Each random
// consumer gets its own stream derived from seed.
func buildRig(o options, cfg *config.ScenarioConfig) (*rig, error) {
	seed := o.seed
	if seed == 0 {
		seed = cfg.GetSeed()
	}

	w, err := world.NewFromScenario(cfg)
	if err != nil {
		return nil, fmt.Errorf("build world: %w", err)
	}

	var s sensor.Model
	if o.sensor == "noisy" {
		s = sensor.NewUncertainLaser(w, cfg.GetSensorRange(), cfg.GetMeasurementSigma(), rand.NewPCG(seed, 1))
	} else {
		s = sensor.NewLaser(w, cfg.GetSensorRange(), cfg.GetLikelihoodEpsilon())
	}

	newMotion := func(stream uint64) (motion.Model, error) {
		if o.motion == "exact" {
			return motion.Deterministic{}, nil
		}
		p := cfg.GetMotionProbabilities()
		return motion.NewStochastic(p[0], p[1], p[2], rand.NewPCG(seed, stream))
	}
	robotMotion, err := newMotion(2)
	if err != nil {
		return nil, err
	}
	locMotion, err := newMotion(3)
	if err != nil {
		return nil, err
	}

	orientation, err := pose.ParseOrientation(cfg.GetStartOrientation())
	if err != nil {
		return nil, err
	}
	startI, startJ := int(cfg.GetStartX()), int(cfg.GetStartY())

	r := &rig{cfg: cfg, world: w, seed: seed}
	switch o.strategy {
	case "markov":
		ml, err := localization.NewMarkov(w, s, locMotion, localization.MarkovOptions{RetainBlockedMass: cfg.GetRetainBlockedMass()})
		if err != nil {
			return nil, err
		}
		dr, err := robot.NewDiscreteRobot(w, s, robotMotion, ml, pose.Pose{X: float64(startI), Y: float64(startJ), Orientation: orientation})
		if err != nil {
			return nil, err
		}
		r.loc, r.robot = ml, dr
	case "particle":
		pcfg := localization.ParticleConfigFromScenario(cfg)
		pf, err := localization.NewParticleFilter(w, s, locMotion, pcfg, rand.NewPCG(seed, 4))
		if err != nil {
			return nil, err
		}
		c := w.TileCenter(startI, startJ)
		cr, err := robot.NewContinuousRobot(w, s, robotMotion, pf, pose.Pose{X: c[0], Y: c[1], Orientation: orientation}, pcfg.Step)
		if err != nil {
			return nil, err
		}
		r.loc, r.robot = pf, cr
	}
	return r, nil
}

// attachPlots writes one plot per notification: a belief PNG for the grid
// filter, a particle HTML chart for the particle filter.
func attachPlots(r *rig, dir string) (string, error) {
	out := report.MakePlotOutputDir(dir, r.cfg.GetScenario(), time.Now())
	switch loc := r.loc.(type) {
	case *localization.Markov:
		bp, err := report.NewBeliefPlotter(out)
		if err != nil {
			return "", err
		}
		r.robot.Subscribe(func() {
			if _, err := bp.Sample(loc); err != nil {
				monitoring.Logf("plots: %v", err)
			}
		})
	case *localization.ParticleFilter:
		if err := os.MkdirAll(out, 0755); err != nil {
			return "", fmt.Errorf("failed to create output dir: %w", err)
		}
		frame := 0
		r.robot.Subscribe(func() {
			est, _ := loc.Estimate()
			truth := r.robot.Pose()
			chart := report.ParticleChart{
				Title:    "Particles",
				Subtitle: fmt.Sprintf("step %d", frame),
				Width:    r.world.Width(),
				Height:   r.world.Height(),
				Truth:    &truth,
				Estimate: &est,
			}
			path := filepath.Join(out, fmt.Sprintf("particles_%04d.html", frame))
			frame++
			f, err := os.Create(path)
			if err != nil {
				monitoring.Logf("plots: %v", err)
				return
			}
			defer f.Close()
			if err := chart.Render(f, loc.Particles()); err != nil {
				monitoring.Logf("plots: %v", err)
			}
		})
	}
	return out, nil
}

func run(ctx context.Context, o options) error {
	if o.logPath != "" {
		fl, err := monitoring.NewFileLogger(o.logPath)
		if err != nil {
			return err
		}
		defer fl.Close()
		defer monitoring.SetLogger(monitoring.Logf)
		fl.Install()
	}

	log.Print(version.String())

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	r, err := buildRig(o, cfg)
	if err != nil {
		return err
	}

	actions, err := sim.ParseActions(o.actions)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		actions = sim.RandomActions(rand.NewPCG(r.seed, 5), o.steps)
	}

	plotsDir := o.plotsDir
	if plotsDir == "" && cfg.GetGeneratePlots() {
		plotsDir = "plots"
	}
	if plotsDir != "" {
		out, err := attachPlots(r, plotsDir)
		if err != nil {
			return err
		}
		log.Printf("writing plots to %s", out)
	}

	runner := &sim.Runner{Robot: r.robot, Localizer: r.loc, Clock: timeutil.RealClock{}}
	if o.realtime {
		runner.Interval = cfg.GetStepInterval()
	}

	var store *sqlite.RunStore
	if o.dbPath != "" {
		store, err = sqlite.Open(o.dbPath, timeutil.RealClock{})
		if err != nil {
			return fmt.Errorf("open run database: %w", err)
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		meta := &sqlite.Run{Strategy: r.loc.Name(), Scenario: cfg.GetScenario(), Seed: r.seed, ConfigJSON: cfgJSON}
		if err := store.StartRun(meta); err != nil {
			return err
		}
		runner.Recorder, runner.RunID = store, meta.RunID
		log.Printf("recording run %s to %s", meta.RunID, o.dbPath)
	}

	serveErr := make(chan error, 1)
	if o.listen != "" {
		srv := api.NewServer(r.world, timeutil.RealClock{})
		srv.Observe(r.robot)
		mux := srv.ServeMux()
		if err := api.AttachAdminRoutes(mux, store, o.dbPath); err != nil {
			return err
		}
		go func() { serveErr <- api.ListenAndServe(ctx, o.listen, api.LoggingMiddleware(mux)) }()
		log.Printf("debug server listening on %s", o.listen)
	} else {
		close(serveErr)
	}

	log.Printf("running %d actions with %s localizer: %s", len(actions), r.loc.Name(), sim.FormatActions(actions))
	sum, runErr := runner.Run(ctx, actions)
	if store != nil && runner.RunID != "" {
		if err := store.FinishRun(runner.RunID); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	log.Printf("steps=%d bumps=%d collapses=%d", sum.Steps, sum.Bumps, sum.Collapses)
	log.Printf("true=%s estimate=%s confidence=%.3f error=%.2f", sum.FinalPose, sum.Estimate, sum.Confidence, sum.PositionError)

	// Keep serving until interrupted so the final state can be inspected.
	if o.listen != "" && ctx.Err() == nil {
		log.Printf("run complete; serving until interrupted")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if o.version {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatal(err)
	}
}
