package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/testhelper"
)

func TestRegisterProxyHeader(t *testing.T) {
	t.Run("test invalid header", func(t *testing.T) {
		proxy := NewProxy()
		_, err := proxy.getReverseHandler("test-header")
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrorInvalidHeader))
	})

	t.Run("test default header", func(t *testing.T) {
		proxy := NewProxy()
		_, err := proxy.getReverseHandler("nebula")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrorInvalidHeader)
		require.ErrorIs(t, err, ErrorNoReverseProxyRegistered)
	})

	t.Run("test register reverse proxy", func(t *testing.T) {
		proxy := NewProxy()
		u, err := url.Parse("http://localhost")
		require.NoError(t, err)

		proxy.RegisterReverseHandler(HostNebula, NewReverseServer(u))
		_, err = proxy.getReverseHandler("nebula")
		require.NoError(t, err)

		// unset
		proxy.RegisterReverseHandler(HostNebula, nil)
		_, err = proxy.getReverseHandler("nebula")
		require.ErrorIs(t, err, ErrorNoReverseProxyRegistered)

		require.NoError(t, proxy.RegisterReverseByAddr(HostNebula, "/ip4/127.0.0.1/tcp/8080"))
		_, err = proxy.getReverseHandler("nebula")
		require.NoError(t, err)

		// unset by empty addr
		require.NoError(t, proxy.RegisterReverseByAddr(HostNebula, ""))
		_, err = proxy.getReverseHandler("nebula")
		require.ErrorIs(t, err, ErrorNoReverseProxyRegistered)
	})
}

func TestParseAddr(t *testing.T) {
	u, err := parseAddr("/ip4/127.0.0.1/tcp/8080")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8080", u.String())

	u, err = parseAddr("https://nebula.example.com/v1")
	require.NoError(t, err)
	require.Equal(t, "/v1", u.Path)
}

func withPerms(perm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithPerm(r.Context(), api.PermissionsFor(perm))))
	})
}

func TestProxyMiddleware(t *testing.T) {
	nebula := testhelper.NewNebulaServer("upstream-secret")
	t.Cleanup(nebula.Close)

	proxy := NewProxy()
	require.NoError(t, proxy.RegisterReverseByAddr(HostNebula, nebula.URL, WithBearerToken("upstream-secret")))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "gateway")
	})

	do := func(perm, upstream, path string) *http.Response {
		srv := httptest.NewServer(withPerms(perm, proxy.ProxyMiddleware(next)))
		t.Cleanup(srv.Close)
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer client-token")
		if upstream != "" {
			req.Header.Set(UpstreamHeader, upstream)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("gateway", func(t *testing.T) {
		for _, upstream := range []string{"", "gateway"} {
			resp := do(api.PermRead, upstream, "/rpc/v0")
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, "gateway", string(body))
		}
	})

	t.Run("nebula", func(t *testing.T) {
		resp := do(api.PermWrite, "nebula", "/session/list")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Result []interface{} `json:"result"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.Empty(t, envelope.Result)
	})

	t.Run("read only", func(t *testing.T) {
		resp := do(api.PermRead, "nebula", "/session/list")
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown upstream", func(t *testing.T) {
		resp := do(api.PermAdmin, "market", "/")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReverseServerWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, []byte(r.URL.Path+" "+auth+" "+string(msg))); err != nil {
				return
			}
		}
	}))
	t.Cleanup(upstream.Close)

	u, err := url.Parse(upstream.URL + "/base")
	require.NoError(t, err)
	front := httptest.NewServer(NewReverseServer(u, WithBearerToken("secret")))
	t.Cleanup(front.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http")+"/rpc", nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "/base/rpc Bearer secret ping", string(msg))
}
