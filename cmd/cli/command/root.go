package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sidgate/internal"
	"sidgate/internal/codec"
	"sidgate/internal/regmap"
	"sidgate/internal/session"
)

// NewRootCommand 创建根命令, REPL 每一行都重新创建以免 flag 残留
func NewRootCommand(a *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sidgate-cli",
		Short:         "USBSID-Pico configuration CLI",
		Long:          `sidgate-cli reads, edits, saves, exports and imports the configuration of a USBSID-Pico.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.ConfigDir, "config", a.ConfigDir, "配置目录")
	rootCmd.PersistentFlags().BoolVarP(&a.Verbose, "verbose", "v", a.Verbose, "输出调试日志")
	rootCmd.SetOut(a.out)

	rootCmd.AddCommand(
		newDevicesCommand(a),
		newConnectCommand(a),
		newDisconnectCommand(a),
		newVersionCommand(a),
		newReadCommand(a),
		newFieldsCommand(a),
		newSetCommand(a),
		newClockCommand(a),
		newApplyCommand(a),
		newSaveCommand(a),
		newSimpleCommand(a, "reset", "Reset the configuration to factory defaults", (*internal.Gateway).ResetConfig),
		newSimpleCommand(a, "reload", "Reload the configuration from flash", (*internal.Gateway).ReloadConfig),
		newSimpleCommand(a, "audio", "Toggle mono/stereo audio", (*internal.Gateway).ToggleAudio),
		newSimpleCommand(a, "mute", "Toggle mute", (*internal.Gateway).ToggleMute),
		newPresetCommand(a),
		newCmdCommand(a),
		newDetectCommand(a),
		newExportCommand(a),
		newImportCommand(a),
	)
	return rootCmd
}

func newDevicesCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List USBSID-Pico devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway()
			if err != nil {
				return err
			}
			ids, err := gw.Link().Discover(a.ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No USBSID-Pico found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tVID:PID\tSERIAL\tPRODUCT")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s:%s\t%s\t%s\n", id.Port, id.VendorID, id.ProductID, id.SerialNumber, id.Product)
			}
			return w.Flush()
		},
	}
}

func newConnectCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the saved device, or pick one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			version, supported := gw.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s, firmware %s (supported: %t)\n", gw.Link().DeviceName(), version, supported)
			return nil
		},
	}
}

func newDisconnectCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
			return nil
		},
	}
}

func newVersionCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Read the firmware version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			v, err := gw.RefreshVersion(a.ctx)
			if err != nil {
				return err
			}
			_, supported := gw.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (supported: %t)\n", v, supported)
			return nil
		},
	}
}

func printReport(out io.Writer, r *internal.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range r.Fields {
		fmt.Fprintf(w, "%s\t%s\t(%d)\n", f.Name, f.Text, f.Raw)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "firmware: %s (supported: %t)\n", r.Version, r.Supported)
	for _, f := range r.Findings {
		fmt.Fprintf(out, "[%s] %s: %s\n", f.Level, f.Rule, f.Message)
	}
	return nil
}

func newReadCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read and decode the device configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			report, err := gw.Retrieve(a.ctx)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func newFieldsCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List configuration fields and their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tOFFSET\tMODE\tVALUES")
			for _, f := range regmap.Fields() {
				values := "0-255"
				switch {
				case f.Domain != nil:
					values = strings.Join(f.Domain.Values(), " | ")
				case f.Clock:
					values = strings.Join(regmap.ClockRates.Values(), " | ")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.Name, f.Offset, f.Mode, values)
			}
			return w.Flush()
		},
	}
}

func newSetCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set a single field, e.g. set socket_one_chiptype Clone",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			// 显示值可能带空格, 例如 "985248 (PAL)"
			text := strings.Join(args[1:], " ")
			if err := gw.SetConfigText(a.ctx, args[0], text); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], text)
			return nil
		},
	}
}

func newClockCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clock <hz|id>",
		Short: "Switch the SID clock rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid clock %q: %w", args[0], regmap.ErrOutOfRange)
			}
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := gw.SetClock(a.ctx, v); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Status(nil))
			return nil
		},
	}
}

func newApplyCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <hex>",
		Short: "Write a complete 64 byte configuration (not saved)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := gw.ApplyConfig(a.ctx, blob); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Status(nil))
			return nil
		},
	}
}

func newSaveCommand(a *App) *cobra.Command {
	var reboot bool
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the configuration to flash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := gw.SaveConfig(a.ctx, reboot); err != nil {
				return err
			}
			if reboot {
				fmt.Fprintln(cmd.OutOrStdout(), "Saved, device is rebooting")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reboot, "reboot", false, "保存后重启设备")
	return cmd
}

// newSimpleCommand 没有参数的设备操作
func newSimpleCommand(a *App, use, short string, op func(*internal.Gateway, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := op(gw, a.ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Status(nil))
			return nil
		},
	}
}

func names(m map[string]byte) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func newPresetCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "preset <name>",
		Short: "Apply a socket preset: " + names(codec.Presets),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := gw.ApplyPreset(a.ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Status(nil))
			return nil
		},
	}
}

func newCmdCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cmd <name>",
		Short: "Run a device command: " + names(codec.ConfigButtons) + ", " + names(codec.SimpleCommands),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			if err := gw.RunCommand(a.ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Status(nil))
			return nil
		},
	}
}

func newDetectCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Detect SID types and show the resulting configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.connected()
			if err != nil {
				return err
			}
			report, err := gw.DetectSIDs(a.ctx)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func newExportCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the configuration as YAML (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.retrieved()
			if err != nil {
				return err
			}
			if args[0] == "-" {
				return gw.ExportProfile(cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := gw.ExportProfile(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[0])
			return nil
		},
	}
}

func newImportCommand(a *App) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML configuration and write it to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			gw, err := a.retrieved()
			if err != nil {
				return err
			}
			if _, err := gw.ImportProfile(a.ctx, f, save); err != nil {
				return err
			}
			if save {
				fmt.Fprintln(cmd.OutOrStdout(), "Imported and saved")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Imported (not saved)")
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "导入后保存 (不重启)")
	return cmd
}
