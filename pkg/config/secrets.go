package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SecretPrefix marks a config value that names a parameter in AWS SSM Parameter Store.
const SecretPrefix = "ssm:"

// SecretResolver looks up a named secret.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// HasSecretRefs reports whether any secret field still holds an ssm: reference.
func HasSecretRefs(cfg *Config) bool {
	for _, field := range secretFields(cfg) {
		if isSecretRef(field.value) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces ssm: references in secret fields with their resolved values.
func ResolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	for _, field := range secretFields(cfg) {
		if !isSecretRef(field.value) {
			continue
		}
		if resolver == nil {
			return fmt.Errorf("%s references a secret but no resolver is configured", field.name)
		}

		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(field.value), SecretPrefix))
		if name == "" {
			return fmt.Errorf("%s has an empty secret reference", field.name)
		}

		value, err := resolver.Resolve(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", field.name, err)
		}
		*field.target = value
	}

	return nil
}

type secretField struct {
	name   string
	value  string
	target *string
}

func secretFields(cfg *Config) []secretField {
	if cfg == nil {
		return nil
	}

	return []secretField{
		{name: "channels.telegram.token", value: cfg.Channels.Telegram.Token, target: &cfg.Channels.Telegram.Token},
		{name: "channels.telegram.webhook_secret", value: cfg.Channels.Telegram.WebhookSecret, target: &cfg.Channels.Telegram.WebhookSecret},
		{name: "backend.voiceflow.api_key", value: cfg.Backend.Voiceflow.APIKey, target: &cfg.Backend.Voiceflow.APIKey},
		{name: "dedup.redis_password", value: cfg.Dedup.RedisPassword, target: &cfg.Dedup.RedisPassword},
	}
}

func isSecretRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), SecretPrefix)
}
