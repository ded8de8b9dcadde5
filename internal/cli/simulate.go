package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/focusquest/focusquest/internal/daemon"
	"github.com/focusquest/focusquest/internal/domain"
)

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simUser, "user", "sim", "User to simulate")
	f.IntVar(&simTicks, "ticks", 3600, "Number of one-second activity ticks")
	f.IntVar(&simDays, "days", 1, "Spread ticks over this many days (ending today)")
	f.Float64Var(&simProductive, "productive", 0.8, "Share of productive ticks")
	f.Float64Var(&simWinRate, "win-rate", 0.6, "Chance the simulated user wins a contextual event")
	f.StringSliceVar(&simApps, "apps", []string{"Visual Studio Code", "Firefox", "Slack", "Figma", "Notion", "Spotify"}, "Apps to cycle through")
	f.Uint64Var(&simSeed, "seed", 0, "Random seed (0 = time based)")
	f.StringVar(&simDataDir, "data-dir", "", "Keep simulation state in this directory (default: throwaway)")
	rootCmd.AddCommand(simulateCmd)
}

var (
	simUser       string
	simTicks      int
	simDays       int
	simProductive float64
	simWinRate    float64
	simApps       []string
	simSeed       uint64
	simDataDir    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed synthetic activity through the reward engine",
	Long: `Generate activity ticks for a simulated user and run them through the
full pipeline: missions, XP, achievements, and contextual events.
State goes to a throwaway directory unless --data-dir is set.`,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simTicks <= 0 || simDays <= 0 || len(simApps) == 0 {
		return fmt.Errorf("--ticks, --days and --apps must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logging.Level = "warn"
	cfg.API.Feed = false
	cfg.Storage.Dir = simDataDir
	if cfg.Storage.Dir == "" {
		dir, err := os.MkdirTemp("", "focusquest-sim-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		cfg.Storage.Dir = dir
	}

	seed := simSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	cfg.Events.Seed = seed

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticks := make(chan domain.Tick, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx, ticks)
	})
	g.Go(func() error {
		defer close(ticks)
		return produceTicks(gctx, d, ticks, rand.New(rand.NewPCG(seed, seed>>1|1)))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	p, err := d.Engine.Profile(context.Background(), simUser)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nSimulated %d ticks over %d day(s) for %q (seed %d)\n\n", simTicks, simDays, simUser, seed)
	return printProfile(os.Stdout, p)
}

func produceTicks(ctx context.Context, d *daemon.Daemon, ticks chan<- domain.Tick, rng *rand.Rand) error {
	bar := newProgressBar(os.Stderr, simTicks)
	perDay := (simTicks + simDays - 1) / simDays
	firstDay := time.Now().AddDate(0, 0, -(simDays - 1))
	app := simApps[0]

	for i := 0; i < simTicks; i++ {
		// Stay in an app for a while before switching.
		if rng.IntN(120) == 0 {
			app = simApps[rng.IntN(len(simApps))]
		}
		day := firstDay.AddDate(0, 0, i/perDay)
		tick := domain.Tick{
			UserID:     simUser,
			AppName:    app,
			Productive: rng.Float64() < simProductive,
			At:         day.Add(time.Duration(i%perDay) * time.Second),
		}

		select {
		case ticks <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}

		if i%25 == 0 {
			playEvent(ctx, d, rng)
			bar.update(i)
		}
	}
	bar.finish()
	return nil
}

// playEvent settles the simulated user's live event, if any.
func playEvent(ctx context.Context, d *daemon.Daemon, rng *rand.Rand) {
	ev, ok := d.Engine.ActiveEvent(simUser)
	if !ok {
		return
	}
	if rng.Float64() < simWinRate {
		d.Engine.AdvanceEvent(ctx, simUser, ev.ID, ev.Target-ev.Progress)
		return
	}
	d.Engine.ResolveEvent(ctx, simUser, ev.ID, domain.OutcomeFled)
}
