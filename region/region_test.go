package region_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alephtx/shmipc/errs"
	"github.com/alephtx/shmipc/region"
)

func tempName(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SHMIPC_DIR", dir)
	return "region-" + t.Name()
}

func TestCreateOpenRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	name := tempName(t)

	owner, err := region.Create(name, 4096)
	require.NoError(t, err)
	defer owner.Close()

	require.True(t, owner.IsOwner())
	require.Equal(t, int64(4096+region.HeaderSize), owner.Size())
	require.False(t, owner.IsShutdown())

	peer, err := region.Open(name)
	require.NoError(t, err)
	defer peer.Close()

	require.False(t, peer.IsOwner())
	require.Equal(t, owner.Size(), peer.Size())
}

func TestCreateNameInUse(t *testing.T) {
	name := tempName(t)

	owner, err := region.Create(name, 4096)
	require.NoError(t, err)
	defer owner.Close()

	_, err = region.Create(name, 4096)
	require.ErrorIs(t, err, errs.ErrNameInUse)
}

func TestOpenNameNotFound(t *testing.T) {
	name := tempName(t)

	_, err := region.Open(name)
	require.ErrorIs(t, err, errs.ErrNameNotFound)
}

func TestShutdownFlagIsVisibleToPeer(t *testing.T) {
	name := tempName(t)

	owner, err := region.Create(name, 4096)
	require.NoError(t, err)
	defer owner.Close()

	peer, err := region.Open(name)
	require.NoError(t, err)
	defer peer.Close()

	require.False(t, peer.IsShutdown())
	owner.MarkShutdown()
	require.True(t, peer.IsShutdown())
}

func TestRawBaseIsWritableAndSharedAcrossHandles(t *testing.T) {
	name := tempName(t)

	owner, err := region.Create(name, 4096)
	require.NoError(t, err)
	defer owner.Close()

	peer, err := region.Open(name)
	require.NoError(t, err)
	defer peer.Close()

	copy(owner.RawBase(), []byte("hello"))
	require.Equal(t, []byte("hello"), peer.RawBase()[:5])
}

func TestCloseRemovesOwnerFileButNotPeerFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHMIPC_DIR", dir)
	name := "close-test"
	path := dir + "/" + name

	owner, err := region.Create(name, 4096)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	peer, err := region.Open(name)
	require.NoError(t, err)
	require.NoError(t, peer.Close())
	_, statErr = os.Stat(path)
	require.NoError(t, statErr)

	require.NoError(t, owner.Close())
	_, statErr = os.Stat(path)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}
