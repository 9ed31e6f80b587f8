package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvrd/nvrd"
	"github.com/nvrd/nvrd/pkg/client"
)

func newServeCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := nvrd.LoadConfig(global.ConfigPath)
			if err != nil {
				return err
			}
			d, err := nvrd.New(cfg)
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return d.Stop(ctx)
		},
	}
}

func apiClient(api *APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL: api.URL,
		APIKey:  api.Key,
		Timeout: api.Timeout,
	})
}

func newStartCommand(api *APIFlags) *cobra.Command {
	var source, traceID string
	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient(api).StartRecording(cmd.Context(), args[0], source, traceID)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "RTSP source address (required)")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "trace id used in the output name")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newStopCommand(api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient(api).StopRecording(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("stopped %s\n", args[0])
			return nil
		},
	}
}

func newStatusCommand(api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show session status (all sessions when name is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(api)
			if len(args) == 1 {
				st, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			}
			sts, err := c.StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(sts)
		},
	}
}

func newSnapshotCommand(api *APIFlags) *cobra.Command {
	var source, traceID string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "snapshot <name>",
		Short: "Grab a single frame from a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := apiClient(api).Snapshot(cmd.Context(), args[0], source, traceID, timeout)
			if err != nil {
				return err
			}
			cmd.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "RTSP source address (required)")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "trace id used in the output name")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "capture timeout")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newSweepCommand(api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one upload sweep now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := apiClient(api).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
}

func newClearCommand(api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-records",
		Short: "Remove all session records without signaling subprocesses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := apiClient(api).ClearRecords(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("cleared %d record(s)\n", n)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
