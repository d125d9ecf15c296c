package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/coordinator"
	"github.com/jayheavner/yoto-esp32-controller/internal/yotod"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

type app struct {
	client  *coordinator.Client
	timeout time.Duration
	jsonOut bool
	device  string
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

func withTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

func main() {
	root := &cobra.Command{
		Use:           "yotoctl",
		Short:         "Control Yoto players from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		configPath string
		username   string
		password   string
		device     string
		timeout    time.Duration
		jsonOut    bool
		verbose    bool
	)

	defaultConfig, err := yotod.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "account username")
	root.PersistentFlags().StringVar(&password, "password", "", "account password")
	root.PersistentFlags().StringVarP(&device, "device", "d", "", "target device id")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 15*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := yotod.LoadConfig(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			cfg = yotod.Config{}
		}
		if username != "" {
			cfg.Auth.Username = username
		}
		if password != "" {
			cfg.Auth.Password = password
		}
		if device != "" {
			cfg.Daemon.DefaultDevice = device
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := zap.NewNop()
		if verbose {
			logger = yotod.NewLogger("debug", "console", "stderr")
		}

		coordCfg, err := cfg.Coordinator()
		if err != nil {
			return err
		}
		client, err := coordinator.New(coordCfg, logger)
		if err != nil {
			return err
		}

		application := &app{
			client:  client,
			timeout: timeout,
			jsonOut: jsonOut,
			device:  cfg.Daemon.DefaultDevice,
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, application))
		return nil
	}

	root.AddCommand(
		devicesCommand(),
		libraryCommand(),
		chaptersCommand(),
		playCommand(),
		pauseCommand(),
		resumeCommand(),
		stopCommand(),
		playCardCommand(),
		nextCommand(),
		prevCommand(),
		sleepCommand(),
		statusCommand(),
		deviceConfigCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// startSession brings the event transport up for commands that publish to a
// device. The caller owns the returned shutdown func.
func startSession(ctx context.Context, a *app) (func(), error) {
	if err := a.client.Start(ctx); err != nil {
		return nil, err
	}
	if err := a.client.WaitConnected(ctx); err != nil {
		a.client.Stop()
		return nil, err
	}
	return a.client.Stop, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func argOrDefault(args []string, fallback string) string {
	if len(args) >= 1 && args[0] != "" {
		return args[0]
	}
	return fallback
}

func describeState(st yoto.DeviceState) string {
	if st.CardID == "" {
		return string(st.PlaybackStatus)
	}
	return fmt.Sprintf("%s %s chapter %s position %ds/%ds volume %d%%",
		st.PlaybackStatus, st.CardID, st.ChapterKey, st.Position, st.TrackLength, st.Volume)
}
