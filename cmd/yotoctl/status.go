package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jayheavner/yoto-esp32-controller/internal/state"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status [device-id]",
		Short: "Show player status",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			if watch {
				return watchStatus(a, args)
			}

			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			deviceID, err := resolveDevice(a, args)
			if err != nil {
				return err
			}
			st, err := a.client.Status(ctx, deviceID)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return printJSON(st)
			}
			pterm.DefaultBasicText.Println(describeState(st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "stream status updates")

	return cmd
}

func watchStatus(a *app, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := startSession(ctx, a)
	if err != nil {
		return err
	}
	defer shutdown()

	deviceID, err := resolveDevice(a, args)
	if err != nil {
		return err
	}

	id := a.client.Subscribe(func(n state.Notification) {
		if n.DeviceID == "" {
			pterm.Info.Printfln("connection: %s", n.Connection)
			return
		}
		if n.DeviceID != deviceID {
			return
		}
		if a.jsonOut {
			_ = printJSON(n.State)
			return
		}
		pterm.DefaultBasicText.Println(describeState(n.State))
	})
	defer a.client.Unsubscribe(id)

	<-ctx.Done()
	return nil
}

func resolveDevice(a *app, args []string) (string, error) {
	if deviceID := argOrDefault(args, a.device); deviceID != "" {
		return deviceID, nil
	}
	devices := a.client.Devices()
	if len(devices) == 0 {
		return "", errors.New("no devices registered to this account")
	}
	if len(devices) > 1 {
		return "", fmt.Errorf("account has %d devices, pass a device id", len(devices))
	}
	return devices[0].ID, nil
}
