package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func deviceConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change device configuration",
	}
	cmd.AddCommand(deviceConfigGetCommand(), deviceConfigSetCommand(), alarmCommand())
	return cmd
}

func alarmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm enable|disable <index>",
		Short: "Enable or disable a configured alarm",
	}
	cmd.AddCommand(alarmToggleCommand("enable", true), alarmToggleCommand("disable", false))
	return cmd
}

func alarmToggleCommand(verb string, enabled bool) *cobra.Command {
	var deviceFlag string

	short := "Enable an alarm by its position in the config"
	if !enabled {
		short = "Disable an alarm by its position in the config"
	}
	cmd := &cobra.Command{
		Use:   verb + " <index>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("alarm index must be a number, got %q", args[0])
			}
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			deviceID, err := resolveDevice(a, nil)
			if err != nil {
				return err
			}
			if deviceFlag != "" {
				deviceID = deviceFlag
			}
			if err := a.client.SetAlarmEnabled(ctx, deviceID, index, enabled); err != nil {
				return err
			}
			if !a.jsonOut {
				pterm.Success.Printfln("alarm %d %sd", index, verb)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceFlag, "device-id", "", "device to update")

	return cmd
}

func deviceConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [device-id]",
		Short: "Show a device's configuration",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			deviceID, err := resolveDevice(a, args)
			if err != nil {
				return err
			}
			config, err := a.client.DeviceConfig(ctx, deviceID)
			if err != nil {
				return err
			}
			return printJSON(config)
		},
	}
}

func deviceConfigSetCommand() *cobra.Command {
	var deviceFlag string

	cmd := &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Update device configuration fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			config := map[string]any{}
			for _, pair := range args {
				key, raw, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", pair)
				}
				config[key] = parseConfigValue(raw)
			}

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			deviceID, err := resolveDevice(a, nil)
			if err != nil {
				return err
			}
			if deviceFlag != "" {
				deviceID = deviceFlag
			}
			if err := a.client.UpdateDeviceConfig(ctx, deviceID, config); err != nil {
				return err
			}
			if !a.jsonOut {
				pterm.Success.Printfln("updated %d field(s)", len(config))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceFlag, "device-id", "", "device to update")

	return cmd
}

// parseConfigValue maps a raw string onto the JSON type the config endpoint
// expects: bools and numbers when they parse, strings otherwise.
func parseConfigValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
