package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"go.opencensus.io/trace"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/types"
	"github.com/ipfs-force-community/nebula-gateway/utils"
)

// AuthHandler puts the permissions of the bearer token into the request
// context. Loopback calls without a token get every permission.
type AuthHandler struct {
	Verifier utils.Verifier
	Next     http.Handler
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "AuthHandler.ServeHTTP",
		func(so *trace.StartOptions) { so.Sampler = trace.AlwaysSample() })
	defer span.End()

	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.FormValue("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	ctx = context.WithValue(ctx, types.IPKey, clientIP(r))
	span.AddAttributes(trace.StringAttribute("X-Real-IP", r.RemoteAddr),
		trace.StringAttribute("preHost", r.Host))

	if len(token) == 0 {
		// local call doesn't need a token
		if !isLoopback(r.RemoteAddr) {
			unauthorized(w, span, "JWT verification failed, empty token")
			return
		}
		ctx = auth.WithPerm(ctx, api.AllPermissions)
		h.Next.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	if !strings.HasPrefix(token, "Bearer ") {
		unauthorized(w, span, "missing Bearer prefix in auth header")
		return
	}
	token = strings.TrimPrefix(token, "Bearer ")

	payload, perms, err := h.Verifier.Verify(ctx, token)
	if err != nil {
		unauthorized(w, span, fmt.Sprintf("JWT verification failed (originating from %s): %s", r.RemoteAddr, err))
		return
	}

	span.AddAttributes(trace.StringAttribute("Account", payload.Name))
	ctx = context.WithValue(ctx, types.AccountKey, payload.Name)
	ctx = auth.WithPerm(ctx, perms)

	h.Next.ServeHTTP(w, r.WithContext(ctx))
}

func unauthorized(w http.ResponseWriter, span *trace.Span, message string) {
	span.SetStatus(trace.Status{Code: trace.StatusCodeUnauthenticated, Message: message})
	log.Warn(message)
	w.WriteHeader(http.StatusUnauthorized)
}

func clientIP(r *http.Request) string {
	if realIP := r.Header.Get("X-Real-IP"); len(realIP) != 0 {
		return realIP
	}
	return r.RemoteAddr
}
