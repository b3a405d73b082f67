package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/filecoin-project/go-jsonrpc/auth"
	jwt3 "github.com/gbrlsnchs/jwt/v3"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/utils"
)

type seen struct {
	perms   []auth.Permission
	account interface{}
	ip      interface{}
}

func setupAuth(t *testing.T) (*AuthHandler, *utils.LocalJwtClient, *seen) {
	jwt, err := utils.NewLocalJwtClient(t.TempDir())
	require.NoError(t, err)

	got := &seen{}
	handler := &AuthHandler{
		Verifier: jwt,
		Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.perms = nil
			for _, perm := range api.AllPermissions {
				if auth.HasPerm(r.Context(), nil, perm) {
					got.perms = append(got.perms, perm)
				}
			}
			got.account = r.Context().Value(types.AccountKey)
			got.ip = r.Context().Value(types.IPKey)
		}),
	}
	return handler, jwt, got
}

func serve(h http.Handler, r *http.Request) int {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestAuthHandler(t *testing.T) {
	t.Run("loopback without token", func(t *testing.T) {
		h, _, got := setupAuth(t)
		for _, remote := range []string{"127.0.0.1:5000", "[::1]:5000"} {
			r := httptest.NewRequest(http.MethodPost, "/rpc/v0", nil)
			r.RemoteAddr = remote
			require.Equal(t, http.StatusOK, serve(h, r))
			require.Equal(t, api.AllPermissions, got.perms)
			require.Equal(t, remote, got.ip)
		}
	})

	t.Run("remote without token", func(t *testing.T) {
		h, _, _ := setupAuth(t)
		r := httptest.NewRequest(http.MethodPost, "/rpc/v0", nil)
		r.RemoteAddr = "10.0.0.2:5000"
		require.Equal(t, http.StatusUnauthorized, serve(h, r))
	})

	t.Run("bearer token", func(t *testing.T) {
		h, jwt, got := setupAuth(t)
		readOnly, err := jwt3.Sign(utils.JWTPayload{Perm: "read", Name: "viewer"}, jwt3.NewHS256(jwt.Seckey))
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodPost, "/rpc/v0", nil)
		r.RemoteAddr = "10.0.0.2:5000"
		r.Header.Set("Authorization", "Bearer "+string(readOnly))
		r.Header.Set("X-Real-IP", "192.168.1.9")
		require.Equal(t, http.StatusOK, serve(h, r))
		require.Equal(t, []auth.Permission{"read"}, got.perms)
		require.Equal(t, "viewer", got.account)
		require.Equal(t, "192.168.1.9", got.ip)
	})

	t.Run("token form value", func(t *testing.T) {
		h, jwt, got := setupAuth(t)
		r := httptest.NewRequest(http.MethodGet, "/rpc/v0?token="+string(jwt.Token), nil)
		r.RemoteAddr = "10.0.0.2:5000"
		require.Equal(t, http.StatusOK, serve(h, r))
		require.Equal(t, "NebulaGatewayLocalToken", got.account)
		require.Len(t, got.perms, 4)
	})

	t.Run("invalid token", func(t *testing.T) {
		h, _, _ := setupAuth(t)
		other, err := utils.NewLocalJwtClient(t.TempDir())
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodPost, "/rpc/v0", nil)
		r.RemoteAddr = "127.0.0.1:5000"
		r.Header.Set("Authorization", "Bearer "+string(other.Token))
		require.Equal(t, http.StatusUnauthorized, serve(h, r))

		r = httptest.NewRequest(http.MethodPost, "/rpc/v0", nil)
		r.Header.Set("Authorization", string(other.Token))
		require.Equal(t, http.StatusUnauthorized, serve(h, r))
	})
}
