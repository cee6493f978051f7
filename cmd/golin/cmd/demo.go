package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/roffe/golin"
	"github.com/roffe/golin/pkg/bar"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "run a master and a slave node against each other on a virtual bus",
	Long: `By default the master requests frame 0x12 and the slave publishes the response,
with --publish the master publishes and the slave subscribes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		frames, _ := cmd.Flags().GetInt("frames")
		hz, _ := cmd.Flags().GetInt("hz")
		publish, _ := cmd.Flags().GetBool("publish")
		debug, _ := cmd.Flags().GetBool(flagDebug)

		masterRole, slaveRole := golin.MasterSubscribe, golin.SlavePublish
		if publish {
			masterRole, slaveRole = golin.MasterPublish, golin.SlaveSubscribe
		}
		return runDemo(cmd.Context(), masterRole, slaveRole, frames, hz, debug)
	},
}

func init() {
	demoCmd.Flags().IntP("frames", "n", 20, "number of frames to run")
	demoCmd.Flags().Int("hz", 10, "periodic trigger frequency")
	demoCmd.Flags().Bool("publish", false, "master publishes instead of requesting")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(ctx context.Context, masterRole, slaveRole golin.Role, frames, hz int, debug bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := golin.NewVirtualBus("demo", 0)
	defer bus.Close()

	newNode := func(role golin.Role) (*golin.Node, *golin.Virtual, error) {
		dev := golin.NewVirtualOn(bus, &golin.AdapterConfig{Debug: debug})
		if err := dev.Open(ctx); err != nil {
			return nil, nil, err
		}
		cfg := golin.DefaultConfig()
		cfg.TickHz = hz
		cfg.OnMessage = func(string) {}
		cfg.Diagnostics = io.Discard
		node, err := golin.NewNode(ctx, dev, cfg)
		if err != nil {
			dev.Close()
			return nil, nil, err
		}
		if err := node.SelectRole(role); err != nil {
			node.Close()
			dev.Close()
			return nil, nil, err
		}
		go printEvents(ctx, log.Default(), dev, node)
		return node, dev, nil
	}

	// the slave has to be listening before the first header
	slave, slaveDev, err := newNode(slaveRole)
	if err != nil {
		return err
	}
	defer slaveDev.Close()
	defer slave.Close()

	// the receiving side drives the progress bar
	watch := slave
	master, masterDev, err := newNode(masterRole)
	if err != nil {
		return err
	}
	defer masterDev.Close()
	defer master.Close()
	if masterRole == golin.MasterSubscribe {
		watch = master
	}

	sub := watch.Subscribe(ctx)
	defer sub.Close()

	pb := bar.New(frames, fmt.Sprintf("%s -> %s", masterRole, slaveRole))
	start := time.Now()

	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		for i := 0; i < frames; i++ {
			r, err := sub.Wait(gctx)
			if err != nil {
				return err
			}
			if !r.Valid {
				log.Printf("invalid frame: %s", r)
			}
			pb.Add(1)
		}
		return nil
	})
	if err := errg.Wait(); err != nil {
		return err
	}
	pb.Finish()
	fmt.Println()

	log.Printf("took %s", time.Since(start).Round(time.Millisecond))
	log.Printf("master %s: %s", master.Role(), master.Stats())
	log.Printf("slave  %s: %s", slave.Role(), slave.Stats())
	return nil
}
