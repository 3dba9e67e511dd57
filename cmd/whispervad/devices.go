package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Drakrig/whisper-vad/internal/capture"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		devices, err := capture.ListDevices(logger)
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices, devicesJSON)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print devices as JSON")
}

func printDevices(w io.Writer, devices []capture.DeviceInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No capture devices found")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Index", "Default", "Name"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{fmt.Sprintf("%d", d.Index), def, d.Name})
	}
	table.Render()
	return nil
}
