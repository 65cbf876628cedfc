// Command geistbind is the binding daemon. It loads configuration, accepts the
// host engine's websocket connection and dispatches device function calls to
// the registered device handlers until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/mfulz/geistbind/internal/handlers/helloworld"
	_ "github.com/mfulz/geistbind/internal/handlers/mqttswitch"

	"github.com/mfulz/geistbind/dispatch"
	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/acl"
	"github.com/mfulz/geistbind/internal/config"
	"github.com/mfulz/geistbind/internal/deps"
	"github.com/mfulz/geistbind/internal/host"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/internal/server"
	"github.com/mfulz/geistbind/internal/workerpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "geistbind",
	Short: "Binding daemon running device handlers for a home automation host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logging.Log.Infof("[geistbind] Configuration loaded, listening on %s", cfg.Listen)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered device types and the binaries they require",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range interfaces.HandlerTypes() {
			reg, err := interfaces.GetHandler(t)
			if err != nil {
				return err
			}
			bins := make([]string, 0, len(reg.Requires))
			for _, r := range reg.Requires {
				bins = append(bins, r.Binary)
			}
			fmt.Printf("%-16s %s\n", t, strings.Join(bins, " "))
		}
		return nil
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	access, err := acl.New(cfg.Access)
	if err != nil {
		return fmt.Errorf("invalid access rules: %w", err)
	}

	checker := deps.NewExecChecker()
	for _, t := range interfaces.HandlerTypes() {
		reg, err := interfaces.GetHandler(t)
		if err != nil {
			return err
		}
		checker.Add(t, reg.Requires...)
	}
	for t, reqs := range cfg.Dependencies.Types {
		for _, r := range reqs {
			checker.Add(t, deps.Requirement{Binary: r.Binary, Install: r.Install})
		}
	}

	out := &dispatch.Outbound{}
	listeners := dispatch.NewListeners()
	policy := dispatch.NewTimeoutPolicy(cfg.Timeouts.Default, cfg.Timeouts.Reduced, cfg.Timeouts.Grace)

	d := dispatch.New(dispatch.Options{
		Sender:    out,
		Host:      host.New(out, listeners),
		Listeners: listeners,
		Pool:      workerpool.New(cfg.Workers),
		Gate:      deps.NewGate(checker, cfg.Dependencies.Settle),
		Timeouts:  policy,
	})

	srv := server.New(server.Options{
		Listen:   cfg.Listen,
		Path:     cfg.Path,
		Ping:     cfg.Ping,
		Handler:  d,
		Outbound: out,
		Timeouts: policy,
		Access:   access,
		Stats:    d.Stats,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	err = g.Wait()

	logging.Log.Infof("[geistbind] Shutting down, tearing down %d instances", len(d.Registry().Names()))
	d.Close()
	logging.Log.Infof("[geistbind] Shutdown complete")
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Log.Errorf("[geistbind] %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to geistbind.yaml")
	rootCmd.AddCommand(typesCmd)
}
