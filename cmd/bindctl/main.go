// Command bindctl is a development client for geistbind. It plays the host
// side of the protocol to invoke device functions by hand and queries the
// daemon's health endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/mfulz/geistbind/cmd/bindctl/cmd"
	"github.com/mfulz/geistbind/internal/configloader"
	"github.com/mfulz/geistbind/internal/controlcli"
	"github.com/mfulz/geistbind/internal/logging"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bindctl",
	Short: "Development client for the geistbind daemon",
	Long:  `bindctl connects to geistbind as the host engine would and sends single function calls.`,
}

func main() {
	cfg, err := controlcli.LoadCTLConfig()
	if err != nil {
		logging.Log.Errorf("[bindctl] Failed to load config: %v", err)
		os.Exit(1)
	}
	if cfg.Logger.Level != "" {
		configloader.SetConfig(&cfg.Logger)
		if err := logging.Init(); err != nil {
			logging.Log.Errorf("[bindctl] Failed to init logger: %v", err)
			os.Exit(1)
		}
	}
	configloader.RegisterConfig(cfg)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.CallCmd)
	rootCmd.AddCommand(cmd.HealthCmd)
}
