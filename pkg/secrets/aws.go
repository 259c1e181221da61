package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/richxcame/giftcard-ledger/pkg/config"
)

// awsBackend reads AWS Secrets Manager. Credentials come from the default
// chain (environment, shared config, instance role).
type awsBackend struct {
	client *secretsmanager.Client
}

func newAWSBackend(ctx context.Context, cfg config.SecretsConfig) (backend, error) {
	if cfg.AWSRegion == "" {
		return nil, errors.New("secrets: aws provider requires region")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
	})
	return &awsBackend{client: client}, nil
}

func (a *awsBackend) Name() ProviderType { return ProviderAWS }

func (a *awsBackend) Close() error { return nil }

func (a *awsBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.Path)}
	if ref.Version != "" {
		input.VersionStage = aws.String(ref.Version)
	}

	out, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: aws read %s: %w", ref.Path, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	}

	return Secret{
		Data:    decodePayload(raw),
		Version: aws.ToString(out.VersionId),
	}, nil
}
