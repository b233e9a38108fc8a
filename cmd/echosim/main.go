// echosim runs the echo protocol through the simulator from the command
// line: handy for eyeballing fault schedules and replaying seeds reported
// by failing tests.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codekitchen/glitch"
	"github.com/codekitchen/glitch/echo"
)

var (
	configFile string
	seed       uint64
	requests   uint64
	retries    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "echosim",
	Short: "Run the echo protocol through the glitch simulator",
	Long: `echosim drives an echo server and client over a simulated faulty
network. The configuration file controls latency, duplication, link and
node failures, and partitions; the same seed always reproduces the same
run.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")
	rootCmd.Flags().Uint64VarP(&seed, "seed", "s", 0, "override the configured seed")
	rootCmd.Flags().Uint64VarP(&requests, "requests", "n", 10, "number of echo requests to complete")
	rootCmd.Flags().BoolVarP(&retries, "retries", "r", true, "client retries unanswered requests")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every simulation event")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := glitch.DefaultConfiguration()
	if configFile != "" {
		loaded, err := glitch.LoadConfiguration(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}

	server := echo.NewServer(0)
	client := echo.NewClient(0, 0, requests, 200*time.Millisecond, retries)

	sim, err := glitch.NewSimulator[echo.Message](
		time.Unix(0, 0),
		[]*echo.Server{server},
		[]*echo.Client{client},
		cfg,
		echo.Checker{},
	)
	if err != nil {
		return err
	}
	if verbose {
		sim.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	res := sim.Run()

	fmt.Printf("run       %s\n", res.RunID)
	fmt.Printf("seed      %d\n", res.Seed)
	fmt.Printf("elapsed   %s (virtual)\n", res.Elapsed)
	fmt.Printf("events    %d\n", res.Events)
	fmt.Printf("messages  %d\n", res.Messages)
	fmt.Printf("trace     %x\n", res.Trace.Hash())
	if !res.Success {
		return fmt.Errorf("simulation failed: %w", res.Err)
	}
	fmt.Println("workload finished")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
