package main

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// runPlayback wraps the session bring-up shared by every command that
// publishes to a device.
func runPlayback(cmd *cobra.Command, args []string, op func(ctx context.Context, a *app, deviceID string) error) error {
	a := fromContext(cmd)
	ctx, cancel := withTimeout(context.Background(), a.timeout)
	defer cancel()

	shutdown, err := startSession(ctx, a)
	if err != nil {
		return err
	}
	defer shutdown()

	return op(ctx, a, argOrDefault(args, a.device))
}

func playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play [device-id]",
		Short: "Resume the active card",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.Play(ctx, deviceID)
			})
		},
	}
}

func pauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [device-id]",
		Short: "Pause playback",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.Pause(ctx, deviceID)
			})
		},
	}
}

func resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [device-id]",
		Short: "Resume paused playback",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.Resume(ctx, deviceID)
			})
		},
	}
}

func stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [device-id]",
		Short: "Stop playback",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.StopPlayback(ctx, deviceID)
			})
		},
	}
}

func playCardCommand() *cobra.Command {
	var (
		chapter int
		track   int
	)

	cmd := &cobra.Command{
		Use:   "play-card <card-id> [device-id]",
		Short: "Start playback of a card",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args[1:], func(ctx context.Context, a *app, deviceID string) error {
				if err := a.client.PlayCard(ctx, deviceID, args[0], chapter, track); err != nil {
					return err
				}
				if !a.jsonOut {
					pterm.Success.Printfln("playing %s", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 1, "chapter to start at")
	cmd.Flags().IntVar(&track, "track", 1, "track to start at")

	return cmd
}

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next [device-id]",
		Short: "Skip to the next track",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.NextTrack(ctx, deviceID)
			})
		},
	}
}

func prevCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prev [device-id]",
		Short: "Skip to the previous track",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.PreviousTrack(ctx, deviceID)
			})
		},
	}
}

func sleepCommand() *cobra.Command {
	var seconds int

	cmd := &cobra.Command{
		Use:   "sleep [device-id]",
		Short: "Arm the sleep timer",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayback(cmd, args, func(ctx context.Context, a *app, deviceID string) error {
				return a.client.SleepTimer(ctx, deviceID, seconds)
			})
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 0, "seconds until sleep, 0 cancels")

	return cmd
}
