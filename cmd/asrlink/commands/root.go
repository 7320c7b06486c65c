package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/asrlink/internal/config"
	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/audio/portaudio"
)

// Global flags
var configPath string

var rootCmd = &cobra.Command{
	Use:   "asrlink",
	Short: "Stream microphone audio to a speech recognition service",
	Long: `asrlink - capture microphone audio, stream it to a speech recognition
service over a WebSocket and print the recognised sentences.

The configuration file is YAML; every key is optional. Without a file the
defaults apply and the endpoint must be given with --endpoint.

Examples:
  # List input devices
  asrlink devices

  # Record until Ctrl+C
  asrlink stream --record-id 42 --endpoint wss://asr.example.com/ws

  # Role separation with tips and medical record updates
  asrlink --config asrlink.yaml stream --record-id 42 --profile roles`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
}

// loadConfig reads --config. A missing default file yields the defaults; a
// missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(configPath)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if !cmd.Flags().Changed("config") {
			return config.Default(), false, nil
		}
		return nil, false, fmt.Errorf("config file %q not found", configPath)
	}
	return nil, false, err
}

// registerBackends wires the capture backends that ship with asrlink.
func registerBackends(reg *config.Registry) {
	reg.RegisterBackend("portaudio", func(config.CaptureConfig) (audio.Backend, error) {
		return portaudio.New(), nil
	})
}

// openBackend creates the backend selected by cfg. The returned release
// function must be called when the backend is no longer needed.
func openBackend(cfg config.CaptureConfig) (audio.Backend, func(), error) {
	reg := config.NewRegistry()
	registerBackends(reg)
	b, err := reg.CreateBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if c, ok := b.(interface{ Close() error }); ok {
		release = func() { _ = c.Close() }
	}
	return b, release, nil
}
