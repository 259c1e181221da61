package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/richxcame/giftcard-ledger/pkg/config"
)

// vaultBackend reads KV v2 secrets
type vaultBackend struct {
	client *vault.Client
	mount  string
}

func newVaultBackend(cfg config.SecretsConfig) (backend, error) {
	if cfg.VaultAddress == "" || cfg.VaultToken == "" {
		return nil, errors.New("secrets: vault provider requires address and token")
	}

	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.VaultAddress

	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create vault client: %w", err)
	}
	client.SetToken(cfg.VaultToken)
	if cfg.VaultNamespace != "" {
		client.SetNamespace(cfg.VaultNamespace)
	}

	mount := strings.Trim(cfg.VaultMountPath, "/")
	if mount == "" {
		mount = "secret"
	}
	return &vaultBackend{client: client, mount: mount}, nil
}

func (v *vaultBackend) Name() ProviderType { return ProviderVault }

func (v *vaultBackend) Close() error { return nil }

func (v *vaultBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	mount := v.mount
	if ref.Mount != "" {
		mount = ref.Mount
	}
	path := strings.TrimPrefix(ref.Path, "data/")

	kv := v.client.KVv2(mount)

	var (
		kvSecret *vault.KVSecret
		err      error
	)
	if ref.Version != "" {
		version, convErr := strconv.Atoi(ref.Version)
		if convErr != nil {
			return Secret{}, fmt.Errorf("secrets: invalid vault version %q: %w", ref.Version, convErr)
		}
		kvSecret, err = kv.GetVersion(ctx, path, version)
	} else {
		kvSecret, err = kv.Get(ctx, path)
	}
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return Secret{}, fmt.Errorf("secrets: vault path %s/%s not found", mount, path)
		}
		return Secret{}, fmt.Errorf("secrets: vault read %s/%s: %w", mount, path, err)
	}

	secret := Secret{Data: make(map[string]string, len(kvSecret.Data))}
	for k, raw := range kvSecret.Data {
		secret.Data[k] = fmt.Sprint(raw)
	}
	if kvSecret.VersionMetadata != nil {
		secret.Version = strconv.Itoa(kvSecret.VersionMetadata.Version)
	}
	return secret, nil
}
