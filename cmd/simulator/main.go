// Command simulator runs the whole motion core against a simulated
// motor-driver board, prints the spatial ZMP reference and the timed samples
// of each walk and the final pose of every joint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang/geo/r2"

	"biped/internal/locomotion"
	"biped/internal/management"
	"biped/pkg/types"
)

func printFrames(walk *locomotion.Walk, every int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "sample\tt [s]\tforward [m]\tlateral [m]\tswing\tlift [m]")
	frames := walk.Frames()
	for i, f := range frames {
		if i%every != 0 && i != len(frames)-1 {
			continue
		}
		fmt.Fprintf(w, "%d\t%.3f\t%.4f\t%+.4f\t%s\t%.4f\n", f.Index, f.T, f.Forward, f.Lateral, f.Swing, f.SwingLift)
	}
	w.Flush()
}

func printReference(walk *locomotion.Walk, every int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "point\tx [m]\ty [m]")
	ref := walk.Reference()
	for i, p := range ref {
		if i%every != 0 && i != len(ref)-1 {
			continue
		}
		fmt.Fprintf(w, "%d\t%.4f\t%+.4f\n", i, p.X, p.Y)
	}
	w.Flush()
}

func printPose(app *management.ApplicationManager) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "joint\tid\tcurrent [deg]\tnext [deg]\tstale")
	for _, j := range app.Registry().Snapshot().Joints {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%v\n", j.Name, j.ID, j.Current, j.Next, j.Stale)
	}
	w.Flush()
}

func main() {
	var (
		configPath = flag.String("config", filepath.Join(os.TempDir(), "biped-simulator.yaml"), "Path to configuration file")
		targetX    = flag.Float64("x", 0.3, "Walk target ahead of the robot in metres")
		targetY    = flag.Float64("y", 0, "Walk target to the left of the robot in metres")
		walks      = flag.Int("walks", 1, "Number of walks to run")
		every      = flag.Int("every", 25, "Print every n-th ZMP sample")
		iteration  = flag.Duration("iteration", 0, "Override the control iteration")
	)
	flag.Parse()
	if *every < 1 {
		*every = 1
	}

	infrastructure, err := management.NewInfrastructureManager(*configPath, management.WithOverride(func(cfg *types.SystemConfig) {
		cfg.Link.Protocol = "sim"
		cfg.Motion.Enabled = false
		if *iteration > 0 {
			cfg.Motion.Iteration = *iteration
		}
	}))
	if err != nil {
		log.Fatalf("Failed to create infrastructure manager: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := infrastructure.Start(ctx); err != nil {
		log.Fatalf("Failed to start infrastructure layer: %v", err)
	}
	defer infrastructure.Stop()

	app, err := management.NewApplicationManager(infrastructure)
	if err != nil {
		log.Fatalf("Failed to create application manager: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start application layer: %v", err)
	}
	defer app.Stop()

	target := r2.Point{X: *targetX, Y: *targetY}
	start := time.Now()
	for i := 1; i <= *walks; i++ {
		walk, err := app.Walk(ctx, target)
		if err != nil {
			log.Printf("Walk %d not started: %v", i, err)
			return
		}
		fmt.Printf("Walk %d: %d footsteps, %d reference points, %d ZMP samples\n",
			i, len(walk.Plan().Steps), len(walk.Reference()), len(walk.Frames()))
		printReference(walk, *every)
		printFrames(walk, *every)

		select {
		case <-walk.Done():
		case <-ctx.Done():
			fmt.Println("\nInterrupted")
			return
		}
	}

	st := app.Cycle().Status()
	fmt.Printf("\n%d walks in %v: %d ticks, %d computed, %d overruns\n",
		*walks, time.Since(start).Round(time.Millisecond), st.Ticks, st.Computed, st.Overruns)
	printPose(app)
}
