package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/arlojames/btstack/internal/cliutil"
	"github.com/arlojames/btstack/pkg/hci"
	"github.com/arlojames/btstack/pkg/mgmt"
	"github.com/spf13/cobra"
)

var adapterCmd = &cobra.Command{
	Use:   "adapter",
	Short: "Manage Bluetooth adapters via the mgmt dispatcher",
}

func init() {
	adapterCmd.AddCommand(adapterListCmd)
	adapterCmd.AddCommand(adapterPowerCmd)
}

// openDispatcher opens the kernel mgmt control channel and starts a
// Dispatcher against it, enumerating the present adapters.
func openDispatcher(ctx context.Context) (*mgmt.Dispatcher, error) {
	sock, err := hci.Open(hci.DevNone, hci.ChannelControl)
	if err != nil {
		return nil, fmt.Errorf("open mgmt control channel: %w", err)
	}

	mcfg := mgmt.Config{
		ReaderTimeout: cfg.Mgmt.Reader.Timeout,
		CmdTimeout:    cfg.Mgmt.Cmd.Timeout,
		RingSize:      cfg.Mgmt.RingSize,
		BTMode:        cfg.Mgmt.BTMode,
		DebugEvents:   cfg.Debug.Mgmt.Event,
	}
	d := mgmt.New(sock, mcfg)
	if err := d.Start(ctx); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return d, nil
}

func adapterTable(adapters []mgmt.AdapterInfo) cliutil.TableRenderer {
	data := cliutil.NewTableData("DEV", "ADDRESS", "NAME", "POWERED", "CONNECTABLE")
	for _, a := range adapters {
		data.AddRow(
			strconv.Itoa(int(a.DevID)),
			fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a.Address[5], a.Address[4], a.Address[3], a.Address[2], a.Address[1], a.Address[0]),
			a.Name,
			strconv.FormatBool(a.CurrentSettings&mgmt.SettingPowered != 0),
			strconv.FormatBool(a.CurrentSettings&mgmt.SettingConnectable != 0),
		)
	}
	return data
}

var adapterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List present Bluetooth adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDispatcher(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		format, err := cliutil.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		return cliutil.NewPrinter(os.Stdout, format).Print(adapterTable(d.Adapters()))
	},
}

var adapterPowerCmd = &cobra.Command{
	Use:   "power <dev_id> <on|off>",
	Short: "Power an adapter on or off",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		devID, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid dev_id %q: %w", args[0], err)
		}
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("power state must be 'on' or 'off', got %q", args[1])
		}

		ctx := cmd.Context()
		d, err := openDispatcher(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		reply, err := d.SendWithReply(mgmt.NewSetPowered(uint16(devID), on), cfg.Mgmt.Cmd.Timeout)
		if err != nil {
			return fmt.Errorf("set powered: %w", err)
		}
		_, status, _, err := reply.CmdComplete()
		if err != nil {
			return err
		}
		if status != mgmt.StatusSuccess {
			return fmt.Errorf("set powered: status=%v", status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "adapter %d powered %s\n", devID, args[1])
		return nil
	},
}
