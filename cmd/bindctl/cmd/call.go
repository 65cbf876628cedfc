// Package cmd provides CLI commands for the bindctl binary.
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mfulz/geistbind/internal/configloader"
	"github.com/mfulz/geistbind/internal/controlcli"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/protocol"
	"github.com/spf13/cobra"
)

var (
	daemonName   string
	overrideAddr string
	deviceType   string
	defineArgs   []string
	namedArgs    map[string]string
	linger       time.Duration
	timeout      time.Duration
)

// CallCmd invokes one device function.
var CallCmd = &cobra.Command{
	Use:   "call <device> <function> [args...]",
	Short: "Invoke a device function",
	Long: `Sends a single function request and prints the reply, the state
pushes and the host commands the daemon issued.

Examples:
  bindctl call -t helloworld hw1 Define
  bindctl call -t helloworld hw1 Set on 30
  bindctl call -t mqttswitch --define-args tcp://broker:1883,home/sw1 sw1 Set on`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configloader.MustGetConfig[*controlcli.CTLConfig]()
		url, err := cfg.Resolve(daemonName, overrideAddr)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		client, err := controlcli.Dial(ctx, url)
		if err != nil {
			return err
		}
		defer client.Close()
		client.Linger = linger

		name, function := args[0], args[1]
		defArgs := append([]string{name, "PythonModule", deviceType}, defineArgs...)
		callArgs := append([]string{name}, args[2:]...)
		if function == protocol.FnDefine {
			callArgs = defArgs
		}

		res, err := client.Call(ctx, controlcli.CallRequest{
			Name:     name,
			Type:     deviceType,
			Function: function,
			Args:     callArgs,
			ArgsH:    namedArgs,
			DefArgs:  defArgs,
		})
		if res != nil {
			for _, c := range res.Commands {
				logging.Log.Infof("host command: %s", c)
			}
			for _, u := range res.Updates {
				logging.Log.Infof("update: %s", summarize(u))
			}
		}
		if err != nil {
			return err
		}

		if msg := res.Reply.String(protocol.FieldError); msg != "" {
			return fmt.Errorf("%s", msg)
		}
		logging.Log.Infof("reply: %q", res.Reply.String(protocol.FieldReturnVal))
		return nil
	},
}

func summarize(h protocol.Hash) string {
	var parts []string
	for _, k := range []string{protocol.FieldName, protocol.FieldFunction} {
		if v := h.String(k); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

func init() {
	CallCmd.Flags().StringVarP(&daemonName, "daemon", "d", "", "Daemon name from config")
	CallCmd.Flags().StringVar(&overrideAddr, "addr", "", "Direct daemon websocket url")
	CallCmd.Flags().StringVarP(&deviceType, "type", "t", "helloworld", "Device type")
	CallCmd.Flags().StringSliceVar(&defineArgs, "define-args", nil, "Extra definition arguments")
	CallCmd.Flags().StringToStringVar(&namedArgs, "named", nil, "Named arguments (key=value)")
	CallCmd.Flags().DurationVar(&linger, "linger", 2*time.Second, "How long to collect pushes after the reply")
	CallCmd.Flags().DurationVar(&timeout, "timeout", 70*time.Second, "Overall timeout")
}
