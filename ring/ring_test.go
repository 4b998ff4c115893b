package ring_test

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alephtx/shmipc/errs"
	"github.com/alephtx/shmipc/region"
	"github.com/alephtx/shmipc/ring"
)

func newPair(t *testing.T, n, b uint32) (*ring.Ring, *ring.Ring, func()) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SHMIPC_DIR", dir)
	name := fmt.Sprintf("ring-%s-%d", t.Name(), rand.Int63())

	rgn, err := region.Create(name, ring.Size(n, b))
	require.NoError(t, err)
	owner, err := ring.NewOwner(rgn, n, b)
	require.NoError(t, err)

	peerRgn, err := region.Open(name)
	require.NoError(t, err)
	peer, err := ring.Open(peerRgn)
	require.NoError(t, err)

	cleanup := func() {
		rgn.Close()
		peerRgn.Close()
	}
	return owner, peer, cleanup
}

func TestWriteReadRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	w, r, cleanup := newPair(t, 4, 64)
	defer cleanup()

	n, ok := w.Write(100, []byte("hello ring"))
	require.True(t, ok)
	require.Equal(t, len("hello ring"), n)

	buf := make([]byte, 64)
	n, ok = r.Read(100, buf)
	require.True(t, ok)
	require.Equal(t, "hello ring", string(buf[:n]))
}

func TestReadTimesOutWhenEmpty(t *testing.T) {
	_, r, cleanup := newPair(t, 2, 16)
	defer cleanup()

	buf := make([]byte, 16)
	start := time.Now()
	_, ok := r.Read(50, buf)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWriteTimesOutWhenFull(t *testing.T) {
	w, _, cleanup := newPair(t, 2, 16)
	defer cleanup()

	// N=2 means only 1 slot is ever concurrently writable (the emptiness
	// test degenerates at N=1, so N=2 is the smallest legal ring and still
	// only has one free slot before the reader catches up).
	_, ok := w.Write(100, []byte("a"))
	require.True(t, ok)

	start := time.Now()
	_, ok = w.Write(50, []byte("b"))
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestFIFOOrderPreservedUnderSingleWriterReader(t *testing.T) {
	w, r, cleanup := newPair(t, 8, 16)
	defer cleanup()

	for i := 0; i < 100; i++ {
		msg := []byte(fmt.Sprintf("m%d", i))
		_, ok := w.Write(100, msg)
		require.True(t, ok)
		buf := make([]byte, 16)
		n, ok := r.Read(100, buf)
		require.True(t, ok)
		require.Equal(t, msg, buf[:n])
	}
}

func TestNewOwnerRejectsTooFewNodes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHMIPC_DIR", dir)

	for _, n := range []uint32{0, 1} {
		rgn, err := region.Create(fmt.Sprintf("bad-%d", n), ring.Size(2, 16))
		require.NoError(t, err)
		_, err = ring.NewOwner(rgn, n, 16)
		require.ErrorIs(t, err, errs.ErrOutOfRange)
		rgn.Close()
	}
}

func TestValueAndSliceDeliveryShapes(t *testing.T) {
	w, r, cleanup := newPair(t, 4, 64)
	defer cleanup()

	type Tick struct {
		Price int64
		Size  int64
	}

	ok := ring.WriteValue(w, 100, Tick{Price: 4200, Size: 7})
	require.True(t, ok)
	got, ok := ring.ReadValue[Tick](r, 100)
	require.True(t, ok)
	require.Equal(t, Tick{Price: 4200, Size: 7}, got)

	src := []int32{1, 2, 3, 4}
	n, ok := ring.WriteSlice(w, 100, src)
	require.True(t, ok)
	require.Equal(t, 4, n)

	dst := make([]int32, 4)
	n, ok = ring.ReadSlice(r, 100, dst)
	require.True(t, ok)
	require.Equal(t, 4, n)
	require.Equal(t, src, dst)
}

// TestMultiProducerMultiConsumerFIFOPropertyHolds is the property-based
// scenario from spec §8: for P producers and C consumers racing random
// writes/reads, the multiset of bytes consumed equals the multiset
// produced.
func TestMultiProducerMultiConsumerFIFOPropertyHolds(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, tc := range []struct{ n, b, p, c, perProducer int }{
		{n: 4, b: 32, p: 1, c: 1, perProducer: 200},
		{n: 8, b: 64, p: 4, c: 4, perProducer: 200},
		{n: 16, b: 16, p: 8, c: 3, perProducer: 100},
	} {
		t.Run(fmt.Sprintf("n=%d/b=%d/p=%d/c=%d", tc.n, tc.b, tc.p, tc.c), func(t *testing.T) {
			w, r, cleanup := newPair(t, uint32(tc.n), uint32(tc.b))
			defer cleanup()

			total := tc.p * tc.perProducer
			produced := make(chan string, total)

			var pwg sync.WaitGroup
			for p := 0; p < tc.p; p++ {
				pwg.Add(1)
				go func(p int) {
					defer pwg.Done()
					rng := rand.New(rand.NewSource(int64(p) + 1))
					for i := 0; i < tc.perProducer; i++ {
						msg := fmt.Sprintf("p%d-i%d-%x", p, i, rng.Int31())
						if len(msg) > tc.b {
							msg = msg[:tc.b]
						}
						for {
							if _, ok := w.Write(1000, []byte(msg)); ok {
								break
							}
						}
						produced <- msg
					}
				}(p)
			}

			consumed := make(chan string, total)
			var cwg sync.WaitGroup
			var got int32
			for c := 0; c < tc.c; c++ {
				cwg.Add(1)
				go func() {
					defer cwg.Done()
					buf := make([]byte, tc.b)
					for {
						n, ok := r.Read(200, buf)
						if ok {
							consumed <- string(buf[:n])
							if atomic.AddInt32(&got, 1) >= int32(total) {
								return
							}
							continue
						}
						if atomic.LoadInt32(&got) >= int32(total) {
							return
						}
					}
				}()
			}

			pwg.Wait()
			close(produced)
			cwg.Wait()
			close(consumed)

			var want, have []string
			for m := range produced {
				want = append(want, m)
			}
			for m := range consumed {
				have = append(have, m)
			}
			sort.Strings(want)
			sort.Strings(have)
			require.Equal(t, want, have)
		})
	}
}
