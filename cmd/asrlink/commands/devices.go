package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/MrWong99/asrlink/pkg/audio"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Long: `List the audio input devices of the configured capture backend.

The device a recording would use is marked with "*". It is capture.device when
configured, otherwise the platform default, otherwise the first device.

Examples:
  asrlink devices
  asrlink devices --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		backend, release, err := openBackend(cfg.Capture)
		if err != nil {
			return err
		}
		defer release()

		devices, err := backend.Devices(cmd.Context())
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		selected, err := audio.SelectDevice(devices, cfg.Capture.Device)
		if err != nil && !errors.Is(err, audio.ErrNoDevice) && !errors.Is(err, audio.ErrNoSuitableDevice) {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices, selected.ID, devicesJSON)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(devicesCmd)
}

type deviceView struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Default     bool    `json:"default"`
	Selected    bool    `json:"selected"`
	MaxChannels int     `json:"max_channels"`
	SampleRate  float64 `json:"default_sample_rate"`
}

// printDevices writes devices as a table or JSON array. selectedID marks the
// device a recording would use; it may be empty.
func printDevices(w io.Writer, devices []audio.Device, selectedID string, asJSON bool) error {
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			ID:          d.ID,
			Label:       d.Label,
			Default:     d.Default,
			Selected:    selectedID != "" && d.ID == selectedID,
			MaxChannels: d.MaxChannels,
			SampleRate:  d.DefaultSampleRate,
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "no audio input devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tLABEL\tCHANNELS\tRATE\tDEFAULT")
	for _, v := range views {
		mark := ""
		if v.Selected {
			mark = "*"
		}
		def := ""
		if v.Default {
			def = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\t%s\n", mark, v.ID, v.Label, v.MaxChannels, v.SampleRate, def)
	}
	return tw.Flush()
}
