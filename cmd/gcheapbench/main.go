// Command gcheapbench drives the allocator and collector under
// synthetic load, for manual soak testing outside the unit tests.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glas-lang/gcheap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gcheapbench",
		Short: "Exercise the glas GC heap allocator and collector under load",
	}
	root.AddCommand(newBenchCmd())
	return root
}

func newBenchCmd() *cobra.Command {
	var (
		mutators   int
		duration   time.Duration
		branchRate float64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Allocate BRANCH/STEM cells across N mutator goroutines for a fixed duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewExample()
			cfg := gcheap.LoadConfig(log)
			gc := gcheap.NewGC(log, cfg)
			gc.Start()
			defer gc.Stop()

			done := make(chan struct{})
			time.AfterFunc(duration, func() { close(done) })

			errs := make(chan error, mutators)
			for i := 0; i < mutators; i++ {
				go runMutator(gc, done, branchRate, errs)
			}
			for i := 0; i < mutators; i++ {
				if err := <-errs; err != nil {
					return err
				}
			}

			stats := gc.Stats()
			fmt.Printf("cycles=%d pages_held=%d pages_avail=%d pages_await=%d last_cycle=%s\n",
				stats.CyclesRun, stats.PagesHeld, stats.PagesAvailable, stats.PagesAwaiting, stats.LastCycle)
			return nil
		},
	}
	cmd.Flags().IntVar(&mutators, "mutators", 4, "number of concurrent mutator goroutines")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run the load")
	cmd.Flags().Float64Var(&branchRate, "branch-rate", 0.5, "fraction of allocations that are BRANCH cells vs STEM")
	return cmd
}

// benchRoot is a single root slot holding the most recently allocated
// cell (cells are not linked to each other), the load generator's only
// GC-visible reference.
type benchRoot struct {
	slot gcheap.Value
}

func (r *benchRoot) SlotCount() int        { return 1 }
func (r *benchRoot) SlotAt(int) *gcheap.Value { return &r.slot }

func runMutator(gc *gcheap.GC, done <-chan struct{}, branchRate float64, errs chan<- error) {
	m := gc.NewMutator()
	root := &benchRoot{}
	handle := gc.RegisterRoots(root, nil)
	defer handle.Decref()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	m.EnterBusy()
	for {
		select {
		case <-done:
			m.ExitBusy()
			errs <- nil
			return
		default:
		}
		c := gc.AllocCell(m)
		if rng.Float64() < branchRate {
			c.SetType(gcheap.TypeBranch)
		} else {
			c.SetType(gcheap.TypeStem)
		}
		v := gcheap.FromPointer(c)
		gc.RootsSlotWrite(handle, 0, v)
		m.Safepoint()
	}
}
