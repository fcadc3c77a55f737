package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalidServiceAccount = errors.New("invalid service account")

// ServiceAccount is a parsed Google service account key. It can be built
// from the raw JSON with ParseServiceAccount or filled in directly.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id,omitempty"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id,omitempty"`
	AuthURI      string `json:"auth_uri,omitempty"`
	TokenURI     string `json:"token_uri,omitempty"`

	// Source records where the key was read from, for startup logs.
	Source string `json:"-"`

	raw []byte
}

func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceAccount, err)
	}
	if err := sa.Validate(); err != nil {
		return nil, err
	}
	sa.raw = raw
	return &sa, nil
}

func (sa *ServiceAccount) Validate() error {
	if sa.Type != "service_account" {
		return fmt.Errorf("%w: type is %q, want service_account", ErrInvalidServiceAccount, sa.Type)
	}
	for field, v := range map[string]string{
		"project_id":   sa.ProjectID,
		"private_key":  sa.PrivateKey,
		"client_email": sa.ClientEmail,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidServiceAccount, field)
		}
	}
	return nil
}

// JSON returns the key in the form expected by Google client options,
// preferring the original bytes when available.
func (sa *ServiceAccount) JSON() ([]byte, error) {
	if len(sa.raw) > 0 {
		return sa.raw, nil
	}
	return json.Marshal(sa)
}

// LogValue keeps the private key out of logs.
func (sa *ServiceAccount) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("project_id", sa.ProjectID),
		slog.String("client_email", sa.ClientEmail),
		slog.String("source", sa.Source),
	)
}
