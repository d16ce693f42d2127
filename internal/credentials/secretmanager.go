package credentials

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

type secretAccessor interface {
	AccessSecretVersion(
		ctx context.Context,
		req *secretmanagerpb.AccessSecretVersionRequest,
		opts ...gax.CallOption,
	) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretManagerConfig names the secret holding the key list.
type SecretManagerConfig struct {
	ProjectID string
	SecretID  string
	Version   string
}

// SecretManager reads keys from Google Secret Manager on every call so a rotated
// secret is picked up without a restart.
type SecretManager struct {
	client secretAccessor
	name   string
	logger *zap.Logger
}

// NewSecretManager connects to Secret Manager using Application Default Credentials.
func NewSecretManager(ctx context.Context, cfg SecretManagerConfig, logger *zap.Logger) (*SecretManager, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return newSecretManagerWithClient(client, cfg, logger)
}

func newSecretManagerWithClient(client secretAccessor, cfg SecretManagerConfig, logger *zap.Logger) (*SecretManager, error) {
	if cfg.ProjectID == "" || cfg.SecretID == "" {
		return nil, fmt.Errorf("%w: secret manager project and secret id are required", crawler.ErrConfiguration)
	}
	version := cfg.Version
	if version == "" {
		version = "latest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecretManager{
		client: client,
		name:   fmt.Sprintf("projects/%s/secrets/%s/versions/%s", cfg.ProjectID, cfg.SecretID, version),
		logger: logger,
	}, nil
}

// Credentials implements crawler.CredentialSource.
func (s *SecretManager) Credentials(ctx context.Context) ([]crawler.Credential, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: s.name})
	if err != nil {
		return nil, fmt.Errorf("%w: access secret %s: %w", crawler.ErrConfiguration, s.name, err)
	}
	keys, err := Parse(string(resp.GetPayload().GetData()))
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", s.name, err)
	}
	s.logger.Debug("loaded API keys from secret manager", zap.String("secret", s.name), zap.Int("keys", len(keys)))
	return keys, nil
}

// Close releases the underlying client.
func (s *SecretManager) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close secret manager client: %w", err)
	}
	return nil
}
