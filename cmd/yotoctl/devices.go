package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			devices := a.client.Devices()

			if a.jsonOut {
				return printJSON(devices)
			}
			if len(devices) == 0 {
				pterm.Info.Println("no devices registered")
				return nil
			}

			data := pterm.TableData{{"DEVICE ID", "NAME", "TYPE", "ONLINE"}}
			for _, d := range devices {
				data = append(data, []string{d.ID, d.Name, d.DeviceType, fmt.Sprintf("%t", d.Online)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}
