package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const (
	accessSecretKey  = "AUTH_ACCESS_TOKEN_SECRET"
	refreshSecretKey = "AUTH_REFRESH_TOKEN_SECRET"
)

// SecretSource resolves named secrets from an external store.
type SecretSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// KeyVaultSource reads secrets from Azure Key Vault using the default credential chain.
type KeyVaultSource struct {
	client *azsecrets.Client
}

// NewKeyVaultSource connects to the vault at vaultURL.
func NewKeyVaultSource(vaultURL string) (*KeyVaultSource, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("key vault client: %w", err)
	}
	return &KeyVaultSource{client: client}, nil
}

// Get fetches the latest version of a secret. Environment style keys are mapped to
// vault names by replacing underscores with hyphens.
func (s *KeyVaultSource) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	name := vaultSecretName(key)
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", name, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret %q has no value", name)
	}
	return *resp.Value, nil
}

func vaultSecretName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// ResolveSecrets overrides the token signing secrets with values from src.
func (c *Config) ResolveSecrets(ctx context.Context, src SecretSource) error {
	if src == nil {
		return nil
	}
	access, err := src.Get(ctx, accessSecretKey)
	if err != nil {
		return err
	}
	refresh, err := src.Get(ctx, refreshSecretKey)
	if err != nil {
		return err
	}
	c.Auth.AccessTokenSecret = access
	c.Auth.RefreshTokenSecret = refresh
	return c.Validate()
}
