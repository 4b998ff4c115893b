// Command shmipc-owner constructs an RPC Channel, wins owner election
// (assuming no peer beat it to it), and serves an addition handler:
// scenario 1 of spec §8, h(id, p) = little_endian_i32(p[0] + p[1]).
//
// Shaped after feeder/main.go's "load config, construct shared resource,
// wait for signal" structure.
package main

import (
	"context"
	"encoding/binary"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alephtx/shmipc/config"
	"github.com/alephtx/shmipc/rpc"
)

func main() {
	log.Println("shmipc-owner starting...")

	cfgPath := "config.toml"
	if p := os.Getenv("SHMIPC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("config: %v (falling back to defaults)", err)
		c := config.Defaults()
		cfg = &config.File{Channel: c}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler := rpc.NewSyncBytesHandler(func(id uint64, payload []byte) ([]byte, error) {
		var a, b int32
		if len(payload) > 0 {
			a = int32(payload[0])
		}
		if len(payload) > 1 {
			b = int32(payload[1])
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(a+b))
		return out, nil
	})

	ch, err := rpc.Construct(ctx, rpc.Options{
		Name:            cfg.Channel.Name,
		BufferNodeCount: cfg.Channel.BufferNodeCount,
		BufferCapacity:  cfg.Channel.BufferCapacity,
		ReceiveThreads:  cfg.Channel.ReceiveThreads,
		PeerOpenTimeout: cfg.Channel.PeerOpenTimeout(),
		Handler:         handler,
	})
	if err != nil {
		log.Fatalf("rpc: %v", err)
	}
	defer ch.Dispose()

	log.Printf("shmipc-owner: channel %q ready (owner=%v)", ch.Name(), ch.IsOwner())

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("shmipc-owner: shutting down")
			return
		case <-ticker.C:
			s := ch.Stats.Snapshot()
			log.Printf("shmipc-owner: requests_received=%d responses_sent=%d errors_sent=%d bytes_received=%d",
				s.RequestsReceived, s.ResponsesSent, s.ErrorsSent, s.BytesReceived)
		}
	}
}
