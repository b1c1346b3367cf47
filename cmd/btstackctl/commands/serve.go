package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gatt"
	"github.com/arlojames/btstack/pkg/gattdb"
	"github.com/arlojames/btstack/pkg/l2cap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	serveLocalAddr string
	serveMaxConns  int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a sample local GATT database to inbound connections",
	Long: `serve listens for inbound ATT bearer connections on the local
adapter and answers every request from an in-memory GATT database (one
service with a single readable/writable/notifiable characteristic),
exercising pkg/gattdb and pkg/gatt's server-side request handling.

At most --max-conns peers are served concurrently; once that many
sessions are live, serve stops accepting until one disconnects.
SIGINT/SIGTERM stop the listener and let in-flight sessions drain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ln, err := l2cap.Listen(serveLocalAddr, 4)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer ln.Close()

		db := buildSampleDB()
		logger.Info("btstackctl serve listening", "local_addr", serveLocalAddr, "max_conns", serveMaxConns)

		gcfg := gatt.Config{
			ReadTimeout:  cfg.Gatt.Cmd.Read.Timeout,
			WriteTimeout: cfg.Gatt.Cmd.Write.Timeout,
			InitTimeout:  cfg.Gatt.Cmd.Init.Timeout,
			RingSize:     cfg.Gatt.RingSize,
			DebugData:    cfg.Debug.Gatt.Data,
		}

		sem := semaphore.NewWeighted(serveMaxConns)
		g, gctx := errgroup.WithContext(ctx)

		// Closing the listener is what unblocks Accept below once ctx is
		// canceled; ln.Close is idempotent so the deferred call above is
		// harmless once this has already run.
		g.Go(func() error {
			<-gctx.Done()
			ln.Close()
			return nil
		})

		g.Go(func() error {
			for {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil // shutting down
				}

				sock, peerAddr, err := ln.Accept()
				if err != nil {
					sem.Release(1)
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("accept: %w", err)
				}
				logger.Info("btstackctl serve: peer connected", "peer", peerAddr)

				h := gatt.New(sock, peerAddr, 0, db, gcfg)
				h.Start()
				go waitAndRelease(h, sem)
			}
		})

		err = g.Wait()
		// Wait for in-flight sessions to end: each holds one semaphore
		// slot until waitAndRelease sees its handler closed.
		_ = sem.Acquire(context.Background(), serveMaxConns)
		return err
	},
}

// waitAndRelease frees h's semaphore slot once its session ends, polling
// IsClosed since Handler exposes no done channel for session teardown.
func waitAndRelease(h *gatt.Handler, sem *semaphore.Weighted) {
	for !h.IsClosed() {
		time.Sleep(200 * time.Millisecond)
	}
	sem.Release(1)
}

func init() {
	serveCmd.Flags().StringVar(&serveLocalAddr, "local-addr", "", "local adapter address (AA:BB:CC:DD:EE:FF)")
	serveCmd.Flags().Int64Var(&serveMaxConns, "max-conns", 8, "maximum number of concurrently served peers")
}

var (
	sampleServiceUUID = att.UUID16(0x1234)
	sampleCharUUID    = att.UUID16(0x5678)
)

// buildSampleDB constructs a one-service, one-characteristic GATT database
// a peer can read, write, and subscribe to notifications on.
func buildSampleDB() *gattdb.Database {
	db := gattdb.New(gattdb.DB)
	db.AddService(&gattdb.Service{
		UUID:    sampleServiceUUID,
		Primary: true,
		Characteristics: []*gattdb.Characteristic{
			{
				UUID:       sampleCharUUID,
				Properties: gattdb.PropRead | gattdb.PropWriteWithAck | gattdb.PropNotify,
				Value:      []byte("btstackctl"),
				Descriptors: []*gattdb.Descriptor{
					{UUID: att.ClientCharacteristicConfigUUID, Value: []byte{0x00, 0x00}},
				},
			},
		},
	})
	db.SetHandles()
	return db
}
