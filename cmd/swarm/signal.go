package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/control"
)

var signalCmd = &cobra.Command{
	Use:       "signal <drain|pause|resume|reset>",
	Short:     "Send a control signal to a running server",
	Long:      "Write a signal file into the server's signals directory (control.signals_dir).",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(control.SignalDrain), string(control.SignalPause), string(control.SignalResume), string(control.SignalReset)},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.Send(cfg.Control.SignalsDir, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", args[0])
		return nil
	},
}
