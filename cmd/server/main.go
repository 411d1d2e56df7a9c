package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:     "handoff-server",
	Short:   "Handoff relay - device sessions and content handoff over WebSocket",
	Version: version,
	Long: `Handoff relay pairs nearby devices into short-lived sessions and forwards
content between them:
- 6-digit session codes with an owner reconnect grace period
- intent routing, clipboard and group broadcast
- WebRTC signaling relay with optional TURN/STUN
- REST API for session inspection, history and TURN credentials`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default: run server
		return runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
