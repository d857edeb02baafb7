package authz

import (
	"context"
	"os"
	"strings"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

// DefaultBaseURL is the hosted authorization service.
const DefaultBaseURL = "https://api.satsrail.io"

// Credentials authenticate calls to the authorization service.
type Credentials struct {
	Secret  string
	BaseURL string
}

// CredentialsProvider resolves credentials. The Client calls it until it first succeeds.
type CredentialsProvider func(ctx context.Context) (Credentials, error)

// browserEnvPrefixes are env var prefixes that frontend toolchains inline into bundles.
var browserEnvPrefixes = []string{"NEXT_PUBLIC_", "VITE_", "PUBLIC_", "REACT_APP_", "EXPO_PUBLIC_"}

// StaticCredentials returns a provider for fixed values. It rejects an empty secret and
// a secret that is also exported under a browser-bundled env var.
func StaticCredentials(secret, baseURL string) CredentialsProvider {
	return func(context.Context) (Credentials, error) {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return Credentials{}, domainErrors.New(domainErrors.CodeInvalidSecret, "payout secret is not configured")
		}
		if err := CheckSecretExposure(secret, os.Environ()); err != nil {
			return Credentials{}, err
		}
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		return Credentials{Secret: secret, BaseURL: strings.TrimRight(baseURL, "/")}, nil
	}
}

// CheckSecretExposure fails with SECRET_EXPOSED if secret is the value of any
// browser-bundled variable in environ ("KEY=VALUE" pairs).
func CheckSecretExposure(secret string, environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value != secret {
			continue
		}
		for _, prefix := range browserEnvPrefixes {
			if strings.HasPrefix(key, prefix) {
				return domainErrors.Newf(domainErrors.CodeSecretExposed,
					"payout secret is exposed to browser bundles via %s", key)
			}
		}
	}
	return nil
}
