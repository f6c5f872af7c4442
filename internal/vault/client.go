// Package vault wraps HashiCorp Vault's KV v2 API for the serving
// process's credential secrets: the Postgres password, Redis password,
// and JWT signing key. When Vault is disabled it falls back to an
// in-memory cache so the rest of the stack never branches on whether
// Vault is configured.
package vault

import (
	"context"
	"fmt"
	"sync"

	"fxreversal/config"

	"github.com/hashicorp/vault/api"
)

// Secret is one named credential: a database password, cache password,
// or signing key.
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*Secret
	cacheEnabled bool
}

// NewClient creates a new Vault client. When cfg.Enabled is false, the
// client operates cache-only, which is how local development and
// tests exercise the same code paths as a real deployment.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]*Secret), cacheEnabled: true}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg, cache: make(map[string]*Secret), cacheEnabled: true}, nil
}

// StoreSecret writes a named secret under the configured mount/path.
func (c *Client) StoreSecret(ctx context.Context, name, value string) error {
	secret := &Secret{Name: name, Value: value}
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[name] = secret
		c.mu.Unlock()
		return nil
	}

	data := map[string]interface{}{"data": map[string]interface{}{"name": name, "value": value}}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), data); err != nil {
		return fmt.Errorf("failed to store secret %q in vault: %w", name, err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = secret
		c.mu.Unlock()
	}
	return nil
}

// GetSecret reads a named secret, checking the in-process cache first.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[name]; ok {
			c.mu.RUnlock()
			return cached.Value, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return "", fmt.Errorf("secret %q not found and vault is disabled", name)
	}

	resp, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return "", fmt.Errorf("failed to read secret %q from vault: %w", name, err)
	}
	if resp == nil || resp.Data == nil {
		return "", fmt.Errorf("secret %q not found", name)
	}

	data, ok := resp.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format for %q", name)
	}
	value := getString(data, "value")

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = &Secret{Name: name, Value: value}
		c.mu.Unlock()
	}
	return value, nil
}

// DeleteSecret removes a named secret's cache entry and, if Vault is
// enabled, its stored metadata.
func (c *Client) DeleteSecret(ctx context.Context, name string) error {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(name)); err != nil {
		return fmt.Errorf("failed to delete secret %q from vault: %w", name, err)
	}
	return nil
}

// RotateSecret replaces a named secret's value in place.
func (c *Client) RotateSecret(ctx context.Context, name, newValue string) error {
	return c.StoreSecret(ctx, name, newValue)
}

// ApplyToConfig overwrites cfg's Postgres/Redis passwords and JWT
// signing secret from Vault when a corresponding named secret exists,
// leaving cfg.json/env values in place otherwise. Call after
// config.Load and before constructing any service that reads those
// fields.
func (c *Client) ApplyToConfig(ctx context.Context, cfg *config.Config) {
	if v, err := c.GetSecret(ctx, "postgres/password"); err == nil && v != "" {
		cfg.Postgres.Password = v
	}
	if v, err := c.GetSecret(ctx, "redis/password"); err == nil && v != "" {
		cfg.Redis.Password = v
	}
	if v, err := c.GetSecret(ctx, "auth/jwt_secret"); err == nil && v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// ClearCache clears the in-memory cache.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*Secret)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection, including the sealed state.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func (c *Client) metadataPath(name string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a disabled, cache-only client for tests.
func NewMockClient() *Client {
	return &Client{config: config.VaultConfig{Enabled: false}, cache: make(map[string]*Secret), cacheEnabled: true}
}
