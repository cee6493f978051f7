package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/roffe/golin"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "golin",
	Short:        "LIN node coordinator",
	Long:         `Run a single LIN node as master or slave, publishing or subscribing frame 0x12`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagRate     = "rate"
	flagBus      = "bus"
	flagMonitor  = "monitor"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "", "com-port, see ports command")
	pf.IntP(flagBaudrate, "b", 115200, "com-port baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagAdapter, "a", "Virtual", "what adapter to use")
	pf.IntP(flagRate, "r", 9600, "LIN bitrate")
	pf.String(flagBus, "default", "virtual bus name")
	pf.BoolP(flagMonitor, "m", false, "print every received frame")
}

// initNode opens the configured adapter and builds a node on it. The caller
// closes both, node first.
func initNode(cmd *cobra.Command) (*golin.Node, golin.Adapter, error) {
	ctx := cmd.Context()
	pf := cmd.Flags()
	adapterName, _ := pf.GetString(flagAdapter)
	port, _ := pf.GetString(flagPort)
	baudrate, _ := pf.GetInt(flagBaudrate)
	rate, _ := pf.GetInt(flagRate)
	debug, _ := pf.GetBool(flagDebug)
	bus, _ := pf.GetString(flagBus)
	monitor, _ := pf.GetBool(flagMonitor)

	dev, err := golin.NewAdapter(adapterName, &golin.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		PrintVersion: true,
		Bus:          bus,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := dev.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", dev.Name(), err)
	}

	cfg := golin.DefaultConfig()
	cfg.Baudrate = rate
	// LEDs and the frame dump are written in interrupt context
	out := golin.NewOutputQueue(os.Stdout, 256)
	go func() {
		<-ctx.Done()
		out.Close()
	}()
	cfg.DataValid = golin.NewLED("LED0", out, color.FgGreen)
	cfg.Activity = golin.NewLED("LED1", out, color.FgYellow)
	cfg.Diagnostics = out

	node, err := golin.NewNode(ctx, dev, cfg)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	go printEvents(ctx, log.Default(), dev, node)
	if monitor {
		go printReceptions(ctx, node)
	}
	return node, dev, nil
}

// printEvents logs adapter and node events until ctx is done. A fatal adapter
// error is logged once, node events keep being drained after it.
func printEvents(ctx context.Context, logger *log.Logger, dev golin.Adapter, node *golin.Node) {
	errc := dev.Err()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errc:
			if err != nil {
				logger.Printf("adapter error: %v", err)
			}
			errc = nil
		case e := <-dev.Event():
			logger.Println(e.String())
		case e := <-node.Event():
			logger.Println(e.String())
		}
	}
}

func printReceptions(ctx context.Context, node *golin.Node) {
	sub := node.Subscribe(ctx)
	defer sub.Close()
	for r := range sub.Chan() {
		status := color.GreenString("valid")
		if !r.Valid {
			status = color.RedString("invalid")
		}
		fmt.Printf("%s %s %s\n", r.Kind, r.Frame.ColorString(), status)
	}
}
