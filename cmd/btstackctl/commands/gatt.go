package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/arlojames/btstack/internal/cliutil"
	"github.com/arlojames/btstack/pkg/gatt"
	"github.com/arlojames/btstack/pkg/gattdb"
	"github.com/arlojames/btstack/pkg/l2cap"
	"github.com/spf13/cobra"
)

var (
	gattLocalAddr string
	gattAddrType  uint8
)

var gattCmd = &cobra.Command{
	Use:   "gatt",
	Short: "Connect to a peer and inspect its GATT attribute tree",
}

func init() {
	gattCmd.PersistentFlags().StringVar(&gattLocalAddr, "local-addr", "", "local adapter address (AA:BB:CC:DD:EE:FF)")
	gattCmd.PersistentFlags().Uint8Var(&gattAddrType, "addr-type", 0, "peer LE address type (0=public, 1=random)")
	gattCmd.AddCommand(gattDumpCmd)
}

var gattDumpCmd = &cobra.Command{
	Use:   "dump <peer-addr>",
	Short: "Connect to a peer, run service/characteristic/descriptor discovery, and print the tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerAddr := args[0]

		sock, err := l2cap.Dial(gattLocalAddr, peerAddr, gattAddrType)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", peerAddr, err)
		}

		gcfg := gatt.Config{
			ReadTimeout:  cfg.Gatt.Cmd.Read.Timeout,
			WriteTimeout: cfg.Gatt.Cmd.Write.Timeout,
			InitTimeout:  cfg.Gatt.Cmd.Init.Timeout,
			RingSize:     cfg.Gatt.RingSize,
			DebugData:    cfg.Debug.Gatt.Data,
		}
		h := gatt.New(sock, peerAddr, 0, nil, gcfg)
		h.Start()
		defer h.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), gcfg.InitTimeout*4)
		defer cancel()
		if err := h.InitClientGatt(ctx); err != nil {
			return fmt.Errorf("discover %s: %w", peerAddr, err)
		}

		format, err := cliutil.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		return cliutil.NewPrinter(os.Stdout, format).Print(discoveredTable(h))
	},
}

func discoveredTable(h *gatt.Handler) cliutil.TableRenderer {
	data := cliutil.NewTableData("HANDLE", "TYPE", "UUID", "PROPERTIES")
	for _, svc := range h.Discovered().ServicesInHandleOrder() {
		data.AddRow(fmt.Sprintf("0x%04X", svc.Handle), "service", svc.UUID.String(), "")
		for _, ch := range svc.Characteristics {
			data.AddRow(fmt.Sprintf("0x%04X", ch.ValueHandle), "characteristic", ch.UUID.String(), propertiesString(ch.Properties))
			for _, desc := range ch.Descriptors {
				data.AddRow(fmt.Sprintf("0x%04X", desc.Handle), "descriptor", desc.UUID.String(), "")
			}
		}
	}
	return data
}

func propertiesString(p uint8) string {
	var s string
	add := func(bit uint8, name string) {
		if p&bit != 0 {
			if s != "" {
				s += ","
			}
			s += name
		}
	}
	add(gattdb.PropBroadcast, "broadcast")
	add(gattdb.PropRead, "read")
	add(gattdb.PropWriteNoAck, "write-no-ack")
	add(gattdb.PropWriteWithAck, "write")
	add(gattdb.PropNotify, "notify")
	add(gattdb.PropIndicate, "indicate")
	add(gattdb.PropAuthSignedWrite, "signed-write")
	add(gattdb.PropExtProps, "ext-props")
	return s
}
