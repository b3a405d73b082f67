package utils

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/filecoin-project/go-jsonrpc/auth"
	jwt3 "github.com/gbrlsnchs/jwt/v3"
	"github.com/mitchellh/go-homedir"

	"github.com/ipfs-force-community/nebula-gateway/api"
)

const TokenFile = "token"

type JWTPayload struct {
	Perm string `json:"perm"`
	Name string `json:"name"`
}

// Verifier checks a bearer token and returns the granted permissions.
type Verifier interface {
	Verify(ctx context.Context, token string) (*JWTPayload, []auth.Permission, error)
}

// LocalJwtClient signs a daemon admin token with a secret generated at
// startup. Tokens do not survive a restart.
type LocalJwtClient struct {
	repo   string
	Seckey []byte
	Token  []byte
}

func NewLocalJwtClient(repo string) (*LocalJwtClient, error) {
	var err error
	var seckey []byte
	if seckey, err = io.ReadAll(io.LimitReader(rand.Reader, 32)); err != nil {
		return nil, err
	}
	var cliToken []byte
	if cliToken, err = jwt3.Sign(
		JWTPayload{
			Perm: api.PermAdmin,
			Name: "NebulaGatewayLocalToken",
		}, jwt3.NewHS256(seckey)); err != nil {
		return nil, err
	}

	return &LocalJwtClient{
		repo:   repo,
		Seckey: seckey,
		Token:  cliToken,
	}, nil
}

func (l *LocalJwtClient) Verify(ctx context.Context, token string) (*JWTPayload, []auth.Permission, error) {
	var payload JWTPayload
	if _, err := jwt3.Verify([]byte(token), jwt3.NewHS256(l.Seckey), &payload); err != nil {
		return nil, nil, fmt.Errorf("JWT Verification failed: %v", err)
	}
	perms := api.PermissionsFor(payload.Perm)
	if len(perms) == 0 {
		return nil, nil, fmt.Errorf("unknown permission %q", payload.Perm)
	}
	return &payload, perms, nil
}

func (l *LocalJwtClient) SaveToken() error {
	return os.WriteFile(filepath.Join(l.repo, TokenFile), l.Token, 0600)
}

// ReadToken loads the token saved by a running daemon.
func ReadToken(repo string) (string, error) {
	repo, err := ExpandPath(repo)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(repo, TokenFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ Verifier = (*LocalJwtClient)(nil)

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(path string) (string, error) {
	return homedir.Expand(path)
}
