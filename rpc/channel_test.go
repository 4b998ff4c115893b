package rpc_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alephtx/shmipc/errs"
	"github.com/alephtx/shmipc/rpc"
)

func chanName(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SHMIPC_DIR", dir)
	return fmt.Sprintf("chan-%s-%d", t.Name(), rand.Int63())
}

func construct(t *testing.T, ctx context.Context, name string, capacity, nodes uint32, threads int, h rpc.Handler) *rpc.Channel {
	t.Helper()
	ch, err := rpc.Construct(ctx, rpc.Options{
		Name:            name,
		BufferNodeCount: nodes,
		BufferCapacity:  capacity,
		ReceiveThreads:  threads,
		Handler:         h,
		PeerOpenTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return ch
}

// TestAdditionScenario is spec §8 scenario 1.
func TestAdditionScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 1024, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		sum := int32(p[0]) + int32(p[1])
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(sum))
		return out, nil
	})
	peer := construct(t, ctx, name, 1024, 8, 1, peerHandler)
	defer peer.Dispose()

	ok, data, err := owner.RemoteRequest(ctx, []byte{123, 10}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x85, 0x00, 0x00, 0x00}, data)
}

// TestLargeMessageScenario is spec §8 scenario 2: a payload spanning many
// packets over a small 256-byte ring.
func TestLargeMessageScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 256, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		return []byte{p[0] * p[1]}, nil
	})
	peer := construct(t, ctx, name, 256, 8, 1, peerHandler)
	defer peer.Dispose()

	payload := make([]byte, 524288)
	payload[0] = 3
	payload[1] = 3

	ok, data, err := owner.RemoteRequest(ctx, payload, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{9}, data)
	// ceil(524288 / (256 - 64)) = 2731 request packets.
	require.EqualValues(t, 2731, owner.Stats.PacketsSent.Load())
}

// TestHandlerErrorScenario is spec §8 scenario 3.
func TestHandlerErrorScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	peer := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peer.Dispose()

	ok, data, err := owner.RemoteRequest(ctx, nil, time.Second)
	require.False(t, ok)
	require.Nil(t, data)
	var remoteErr *rpc.RemoteError
	require.ErrorAs(t, err, &remoteErr)
}

// TestTimeoutScenario is spec §8 scenario 4.
func TestTimeoutScenario(t *testing.T) {
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		time.Sleep(1 * time.Second)
		return []byte{p[0] * p[1]}, nil
	})
	peer := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peer.Dispose()

	start := time.Now()
	ok, data, err := owner.RemoteRequest(ctx, []byte{3, 3}, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)
	require.Less(t, time.Since(start), 900*time.Millisecond)
	require.EqualValues(t, 1, owner.Stats.Timeouts.Load())

	// Give the late reply time to arrive and be counted as discarded.
	time.Sleep(2 * time.Second)
	require.EqualValues(t, 1, owner.Stats.DiscardedResponses.Load())
}

// TestNestedCallScenario is spec §8 scenario 5. The endpoint that receives
// the top-level call (owner, here) answers it with a handler that itself
// issues a nested RemoteRequest back across the same channel; answering
// that nested call requires a free worker while the first is parked
// waiting on it, so the nested side must be constructed with
// receive_threads >= 2 (spec §5's deadlock note).
func TestNestedCallScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	var ownerCh *rpc.Channel
	ownerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		ok, data, err := ownerCh.RemoteRequest(ctx, []byte{3, 3}, 2*time.Second)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("nested call failed")
		}
		return data, nil
	})
	ownerCh = construct(t, ctx, name, 512, 8, 2, ownerHandler)
	defer ownerCh.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		return []byte{p[0] * p[1]}, nil
	})
	peerCh := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peerCh.Dispose()

	ok, data, err := peerCh.RemoteRequest(ctx, nil, 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{9}, data)
}

// TestOwnerTeardownScenario is spec §8 scenario 6.
func TestOwnerTeardownScenario(t *testing.T) {
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	peer := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer peer.Dispose()

	require.NoError(t, owner.Dispose())

	// The peer's next ring wait observes shutdown at its next bounded wait.
	require.Eventually(t, func() bool {
		_, _, err := peer.RemoteRequest(ctx, []byte{1, 2}, time.Second)
		return errors.Is(err, errs.ErrShutdown)
	}, 3*time.Second, 50*time.Millisecond)
}

func TestConstructRejectsOutOfRangeCapacity(t *testing.T) {
	name := chanName(t)
	ctx := context.Background()

	for _, badCap := range []uint32{255, 1<<20 + 1} {
		_, err := rpc.Construct(ctx, rpc.Options{Name: name, BufferNodeCount: 8, BufferCapacity: badCap})
		require.ErrorIs(t, err, errs.ErrOutOfRange)
	}
}

func TestRemoteRequestTimeoutZeroNeverBlocks(t *testing.T) {
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()
	peer := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer peer.Dispose()

	start := time.Now()
	ok, data, err := owner.RemoteRequest(ctx, []byte{1, 2}, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestZeroLengthPayloadProducesOnePacket(t *testing.T) {
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	var gotLen int
	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		gotLen = len(p)
		return nil, nil
	})
	peer := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peer.Dispose()

	ok, data, err := owner.RemoteRequest(ctx, nil, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, data)
	require.Equal(t, 0, gotLen)
	require.EqualValues(t, 1, peer.Stats.RequestsReceived.Load())
	require.EqualValues(t, 1, owner.Stats.PacketsSent.Load())
}

// TestAsyncBytesHandlerScenario exercises the fourth request-handler shape
// from spec §6 (async, bytes-reply), the one that needs rpc.BytesResult to
// be constructible outside the package.
func TestAsyncBytesHandlerScenario(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewAsyncBytesHandler(func(id uint64, p []byte) <-chan rpc.BytesResult {
		out := make(chan rpc.BytesResult, 1)
		go func() {
			out <- rpc.BytesResult{Data: []byte{p[0] * p[1]}}
		}()
		return out
	})
	peer := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peer.Dispose()

	ok, data, err := owner.RemoteRequest(ctx, []byte{4, 5}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{20}, data)
}

// TestStatsResetZeroesCounters covers spec §4.3.6's reset operation on the
// RPC layer's Stats: counters a round trip made non-zero, and the send-wait
// high-water mark, read zero after Reset.
func TestStatsResetZeroesCounters(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := chanName(t)
	ctx := context.Background()

	owner := construct(t, ctx, name, 512, 8, 1, rpc.Handler{})
	defer owner.Dispose()

	peerHandler := rpc.NewSyncBytesHandler(func(id uint64, p []byte) ([]byte, error) {
		return []byte{p[0] + p[1]}, nil
	})
	peer := construct(t, ctx, name, 512, 8, 1, peerHandler)
	defer peer.Dispose()

	ok, _, err := owner.RemoteRequest(ctx, []byte{1, 2}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NotZero(t, owner.Stats.RequestsSent.Load())
	require.NotZero(t, owner.Stats.BytesSent.Load())

	owner.Stats.Reset()
	require.Zero(t, owner.Stats.RequestsSent.Load())
	require.Zero(t, owner.Stats.BytesSent.Load())
	require.Zero(t, owner.Stats.MaxWaitMillisSent.Load())
}
