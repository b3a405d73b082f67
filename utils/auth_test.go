package utils

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/filecoin-project/go-jsonrpc/auth"
	jwt3 "github.com/gbrlsnchs/jwt/v3"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
)

func TestLocalJwtCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	jwt, err := NewLocalJwtClient(t.TempDir())
	require.NoError(t, err)
	payload, perm, err := jwt.Verify(ctx, string(jwt.Token))
	require.NoError(t, err)
	require.Equal(t, "NebulaGatewayLocalToken", payload.Name)
	require.Equal(t, []auth.Permission{"admin", "sign", "write", "read"}, perm)
}

func TestLocalJwtRejects(t *testing.T) {
	ctx := context.Background()
	jwt, err := NewLocalJwtClient(t.TempDir())
	require.NoError(t, err)

	other, err := NewLocalJwtClient(t.TempDir())
	require.NoError(t, err)
	_, _, err = jwt.Verify(ctx, string(other.Token))
	require.Error(t, err)

	unknown, err := jwt3.Sign(JWTPayload{Perm: "root", Name: "x"}, jwt3.NewHS256(jwt.Seckey))
	require.NoError(t, err)
	_, _, err = jwt.Verify(ctx, string(unknown))
	require.Error(t, err)

	readOnly, err := jwt3.Sign(JWTPayload{Perm: "read", Name: "viewer"}, jwt3.NewHS256(jwt.Seckey))
	require.NoError(t, err)
	_, perm, err := jwt.Verify(ctx, string(readOnly))
	require.NoError(t, err)
	require.Equal(t, []auth.Permission{"read"}, perm)
}

func TestSaveToken(t *testing.T) {
	repo := t.TempDir()
	jwt, err := NewLocalJwtClient(repo)
	require.NoError(t, err)
	require.NoError(t, jwt.SaveToken())

	token, err := ReadToken(repo)
	require.NoError(t, err)
	require.Equal(t, string(jwt.Token), token)
}

func TestExpandPath(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	path, err := ExpandPath("~/.nebula-gateway")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".nebula-gateway"), path)

	path, err = ExpandPath("/var/lib/gateway")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gateway", path)

	_, err = ExpandPath("~other/.nebula-gateway")
	require.Error(t, err)
}
