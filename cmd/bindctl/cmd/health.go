package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/mfulz/geistbind/internal/configloader"
	"github.com/mfulz/geistbind/internal/controlcli"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/spf13/cobra"
)

// HealthCmd shows whether the daemon has a host connection and which
// device instances are live.
var HealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configloader.MustGetConfig[*controlcli.CTLConfig]()
		url, err := cfg.Resolve(daemonName, overrideAddr)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		h, err := controlcli.FetchHealth(ctx, url)
		if err != nil {
			return err
		}

		logging.Log.Infof("Status:    %s", h.Status)
		logging.Log.Infof("Connected: %v", h.Connected)
		logging.Log.Infof("Workers:   %d", h.Workers)
		logging.Log.Infof("Pending:   %d host commands", h.PendingListeners)
		if len(h.Loading) > 0 {
			logging.Log.Infof("Loading:   %s", strings.Join(h.Loading, ", "))
		}
		if len(h.Instances) == 0 {
			logging.Log.Infoln("No live instances.")
			return nil
		}
		logging.Log.Infoln("Instances:")
		for _, name := range h.Instances {
			logging.Log.Infof(" - %s", name)
		}
		return nil
	},
}

func init() {
	HealthCmd.Flags().StringVarP(&daemonName, "daemon", "d", "", "Daemon name from config")
	HealthCmd.Flags().StringVar(&overrideAddr, "addr", "", "Direct daemon websocket url")
}
