package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"google.golang.org/api/option"
)

// gcpBackend reads Google Secret Manager
type gcpBackend struct {
	client  *secretmanager.Client
	project string
}

func newGCPBackend(ctx context.Context, cfg config.SecretsConfig) (backend, error) {
	if cfg.GCPProjectID == "" {
		return nil, errors.New("secrets: gcp provider requires project id")
	}

	var opts []option.ClientOption
	if cfg.GCPCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentials))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create gcp client: %w", err)
	}
	return &gcpBackend{client: client, project: cfg.GCPProjectID}, nil
}

func (g *gcpBackend) Name() ProviderType { return ProviderGCP }

func (g *gcpBackend) Close() error { return g.client.Close() }

func (g *gcpBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	name := gcpVersionName(g.project, ref)
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: gcp read %s: %w", name, err)
	}
	return Secret{Data: decodePayload(resp.GetPayload().GetData()), Version: resp.GetName()}, nil
}

// gcpVersionName expands a short path to a full secret version resource name
func gcpVersionName(project string, ref Reference) string {
	if strings.HasPrefix(ref.Path, "projects/") {
		return ref.Path
	}
	version := ref.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.Path, version)
}
