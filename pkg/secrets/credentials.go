package secrets

import (
	"context"
	"fmt"
)

// Credentials is the username/password pair used for the API log-in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResolveCredentials reads a single credential pair from the secret stored under key.
// Both "username" and "password" must be present and non-empty.
func ResolveCredentials(ctx context.Context, p Provider, key string) (Credentials, error) {
	secret, err := p.GetSecret(ctx, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve credentials: %w", err)
	}

	creds := Credentials{
		Username: secret["username"],
		Password: secret["password"],
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("secret [%s] missing username or password", key)
	}
	return creds, nil
}
