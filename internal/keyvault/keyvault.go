// Package keyvault retrieves the operator signing key.
//
// In production the key never leaves the operator's key daemon host; it is
// fetched once over gRPC from the local vault service
// (feegate.Keyvault/GetOperatorKey). Outside that environment the
// OPERATOR_PRIVATE_KEY environment variable is used instead.
package keyvault

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const getKeyMethod = "/feegate.Keyvault/GetOperatorKey"

// cached result; errors are not cached so callers can retry after a
// transient vault failure.
var (
	once      sync.Once
	cachedKey *ecdsa.PrivateKey
	cachedErr error
)

// Get returns the operator signing key.
//
// Decision tree:
//  1. MOCK_KEYVAULT env var set → parse OPERATOR_PRIVATE_KEY
//  2. Otherwise → gRPC call to the vault daemon at vaultAddr
func Get(ctx context.Context, vaultAddr string) (*ecdsa.PrivateKey, error) {
	once.Do(func() {
		cachedKey, cachedErr = fetch(ctx, vaultAddr)
		if cachedErr != nil {
			once = sync.Once{}
		}
	})
	return cachedKey, cachedErr
}

func fetch(ctx context.Context, vaultAddr string) (*ecdsa.PrivateKey, error) {
	if os.Getenv("MOCK_KEYVAULT") != "" {
		return fetchMock()
	}
	return fetchRemote(ctx, vaultAddr)
}

func fetchMock() (*ecdsa.PrivateKey, error) {
	raw := os.Getenv("OPERATOR_PRIVATE_KEY")
	if raw == "" {
		return nil, fmt.Errorf("MOCK_KEYVAULT set but OPERATOR_PRIVATE_KEY missing")
	}
	return parseKey(raw)
}

func fetchRemote(ctx context.Context, vaultAddr string) (*ecdsa.PrivateKey, error) {
	if vaultAddr == "" {
		return nil, fmt.Errorf("keyvault address not configured")
	}
	// The vault daemon is a local sidecar; transport security is host-level.
	conn, err := grpc.NewClient(vaultAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial keyvault: %w", err)
	}
	defer conn.Close()

	req, err := structpb.NewStruct(map[string]any{"purpose": "quote-signing"})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, getKeyMethod, req, resp); err != nil {
		return nil, fmt.Errorf("GetOperatorKey: %w", err)
	}

	field, ok := resp.Fields["private_key_hex"]
	if !ok {
		return nil, fmt.Errorf("keyvault response missing private_key_hex")
	}
	return parseKey(field.GetStringValue())
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return key, nil
}
