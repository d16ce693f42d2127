package credentials

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

// Keyring reads keys from the OS keyring, for local development.
type Keyring struct {
	service string
	user    string
}

// NewKeyring returns a Source for the given keyring entry.
func NewKeyring(service, user string) (*Keyring, error) {
	if service == "" || user == "" {
		return nil, fmt.Errorf("%w: keyring service and user are required", crawler.ErrConfiguration)
	}
	return &Keyring{service: service, user: user}, nil
}

// Credentials implements crawler.CredentialSource.
func (k *Keyring) Credentials(_ context.Context) ([]crawler.Credential, error) {
	payload, err := keyring.Get(k.service, k.user)
	if err != nil {
		return nil, fmt.Errorf("%w: read keyring %s/%s: %w", crawler.ErrConfiguration, k.service, k.user, err)
	}
	return Parse(payload)
}

// Store saves keys as a JSON array under the keyring entry.
func (k *Keyring) Store(keys []string) error {
	payload, err := encode(keys)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, k.user, payload); err != nil {
		return fmt.Errorf("write keyring %s/%s: %w", k.service, k.user, err)
	}
	return nil
}
