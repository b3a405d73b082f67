package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

func testAsyncStorage(t *testing.T, s AsyncStorage) {
	ctx := context.Background()

	_, ok, err := s.GetItem(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetItem(ctx, "k", "v1"))
	require.NoError(t, s.SetItem(ctx, "k", "v2"))
	value, ok, err := s.GetItem(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", value)

	require.NoError(t, s.RemoveItem(ctx, "k"))
	_, ok, err = s.GetItem(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	// removing an absent key is not an error
	require.NoError(t, s.RemoveItem(ctx, "k"))
}

func TestMemStorage(t *testing.T) {
	testAsyncStorage(t, NewMemStorage())

	t.Run("fail", func(t *testing.T) {
		s := NewMemStorage()
		s.SetFail(true)
		_, _, err := s.GetItem(context.Background(), "k")
		require.Error(t, err)
		require.Error(t, s.SetItem(context.Background(), "k", "v"))
		require.Error(t, s.RemoveItem(context.Background(), "k"))
	})
}

func TestBadgerStorage(t *testing.T) {
	t.Run("on disk", func(t *testing.T) {
		bs, err := OpenBadger(filepath.Join(t.TempDir(), "db"))
		require.NoError(t, err)
		defer bs.Close() //nolint
		testAsyncStorage(t, bs)
		require.NoError(t, bs.Ping(context.Background()))
	})

	t.Run("in memory", func(t *testing.T) {
		bs, err := OpenBadger("")
		require.NoError(t, err)
		testAsyncStorage(t, bs)
		require.NoError(t, bs.Close())
		require.Error(t, bs.Ping(context.Background()))
	})

	t.Run("reopen keeps values", func(t *testing.T) {
		ctx := context.Background()
		dir := filepath.Join(t.TempDir(), "db")
		bs, err := OpenBadger(dir)
		require.NoError(t, err)
		require.NoError(t, bs.SetItem(ctx, ActiveWalletIDKey, "io.metamask"))
		require.NoError(t, bs.Close())

		bs, err = OpenBadger(dir)
		require.NoError(t, err)
		defer bs.Close() //nolint
		require.Equal(t, "io.metamask", GetStoredActiveWalletID(ctx, bs))
	})
}

func TestStoredValues(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		s := NewMemStorage()
		require.Equal(t, []string{}, GetStoredConnectedWalletIDs(ctx, s))
		require.Equal(t, "", GetStoredActiveWalletID(ctx, s))
		require.Nil(t, GetLastConnectedChain(ctx, s))
	})

	t.Run("stored", func(t *testing.T) {
		s := NewMemStorage()
		require.NoError(t, s.SetItem(ctx, ConnectedWalletIDsKey, `["io.metamask","inApp"]`))
		require.NoError(t, s.SetItem(ctx, ActiveWalletIDKey, "inApp"))
		require.NoError(t, s.SetItem(ctx, ActiveChainKey, `{"id":137,"rpc":"https://137.rpc.example.com"}`))

		require.Equal(t, []string{"io.metamask", "inApp"}, GetStoredConnectedWalletIDs(ctx, s))
		require.Equal(t, "inApp", GetStoredActiveWalletID(ctx, s))
		require.Equal(t, &types.Chain{ID: 137, RPC: "https://137.rpc.example.com"}, GetLastConnectedChain(ctx, s))
	})

	t.Run("corrupt values are swallowed", func(t *testing.T) {
		s := NewMemStorage()
		require.NoError(t, s.SetItem(ctx, ConnectedWalletIDsKey, `not json`))
		require.NoError(t, s.SetItem(ctx, ActiveChainKey, `{`))
		require.Equal(t, []string{}, GetStoredConnectedWalletIDs(ctx, s))
		require.Nil(t, GetLastConnectedChain(ctx, s))
	})

	t.Run("storage errors are swallowed", func(t *testing.T) {
		s := NewMemStorage()
		require.NoError(t, s.SetItem(ctx, ActiveWalletIDKey, "inApp"))
		s.SetFail(true)
		require.Equal(t, []string{}, GetStoredConnectedWalletIDs(ctx, s))
		require.Equal(t, "", GetStoredActiveWalletID(ctx, s))
		require.Nil(t, GetLastConnectedChain(ctx, s))
		DeleteConnectParams(ctx, s, "inApp")
	})

	t.Run("connect params", func(t *testing.T) {
		s := NewMemStorage()
		require.NoError(t, SaveConnectParams(ctx, s, "inApp", map[string]string{"strategy": "email"}))
		require.Equal(t, `{"strategy":"email"}`, s.Items()["thirdweb:inApp:connect-params"])
		DeleteConnectParams(ctx, s, "inApp")
		require.Empty(t, s.Items())
	})
}
