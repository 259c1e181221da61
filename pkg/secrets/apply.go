package secrets

import (
	"context"
	"fmt"

	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

type binding struct {
	name   string
	kind   SecretType
	raw    string
	target *string
}

// ApplyToConfig resolves the *Ref settings and overwrites the matching plain
// values. Unset references leave the environment values in place.
func ApplyToConfig(ctx context.Context, m Manager, cfg *config.Config) error {
	bindings := []binding{
		{"database_password", SecretDatabase, cfg.Secrets.DBPasswordRef, &cfg.Database.Password},
		{"jwt_secret", SecretJWT, cfg.Secrets.JWTSecretRef, &cfg.JWT.Secret},
		{"redis_password", SecretRedis, cfg.Secrets.RedisPasswordRef, &cfg.Redis.Password},
		{"storage_secret_key", SecretStorage, cfg.Secrets.StorageSecretKeyRef, &cfg.Storage.SecretKey},
	}

	for _, b := range bindings {
		if b.raw == "" {
			continue
		}
		ref, err := ParseReference(b.name, b.kind, b.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		value, err := m.GetString(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", b.name, err)
		}
		*b.target = value
		logger.Debug("Applied secret to config", zap.String("secret_name", b.name))
	}
	return nil
}
