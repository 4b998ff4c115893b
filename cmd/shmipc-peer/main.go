// Command shmipc-peer opens the same named RPC Channel shmipc-owner
// constructed and repeatedly issues the addition request from spec §8
// scenario 1, logging each result.
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
	log.Println("shmipc-peer starting...")

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

	ch, err := rpc.Construct(ctx, rpc.Options{
		Name:            cfg.Channel.Name,
		BufferNodeCount: cfg.Channel.BufferNodeCount,
		BufferCapacity:  cfg.Channel.BufferCapacity,
		ReceiveThreads:  cfg.Channel.ReceiveThreads,
		PeerOpenTimeout: cfg.Channel.PeerOpenTimeout(),
	})
	if err != nil {
		log.Fatalf("rpc: %v", err)
	}
	defer ch.Dispose()

	log.Printf("shmipc-peer: channel %q ready (owner=%v)", ch.Name(), ch.IsOwner())

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("shmipc-peer: shutting down")
			return
		case <-ticker.C:
			ok, data, err := ch.RemoteRequest(ctx, []byte{123, 10}, 2*time.Second)
			if err != nil {
				log.Printf("shmipc-peer: request failed: %v", err)
				continue
			}
			if !ok {
				log.Println("shmipc-peer: request timed out")
				continue
			}
			sum := binary.LittleEndian.Uint32(data)
			log.Printf("shmipc-peer: 123 + 10 = %d", sum)
		}
	}
}
