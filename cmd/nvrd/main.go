package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for client commands.
type APIFlags struct {
	URL     string
	Key     string
	Timeout time.Duration
}

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	api := &APIFlags{}

	root := &cobra.Command{
		Use:   "nvrd",
		Short: "RTSP recording daemon with periodic remote offload",
		Long: `nvrd manages ffmpeg capture sessions against RTSP sources, takes
single-frame snapshots, and periodically moves finished recordings to
remote storage under a host-wide sweep lock.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&global.ConfigPath, "config", "c", "/etc/nvrd/nvrd.toml", "path to config file")
	root.PersistentFlags().StringVar(&api.URL, "api-url", "http://localhost:8080/api", "daemon API base URL")
	root.PersistentFlags().StringVar(&api.Key, "api-key", "", "daemon API shared secret")
	root.PersistentFlags().DurationVar(&api.Timeout, "api-timeout", 30*time.Second, "daemon API request timeout")

	root.AddCommand(
		newServeCommand(global),
		newStartCommand(api),
		newStopCommand(api),
		newStatusCommand(api),
		newSnapshotCommand(api),
		newSweepCommand(api),
		newClearCommand(api),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nvrd version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("nvrd %s\n", version)
		},
	}
}
