package secrets

import (
	"errors"
	"strings"
)

var (
	// ErrProviderNotConfigured is returned when no backend is selected
	ErrProviderNotConfigured = errors.New("secrets: provider not configured")
	// ErrInvalidReference indicates an empty or malformed reference
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrKeyNotFound is returned when the secret payload lacks the requested key
	ErrKeyNotFound = errors.New("secrets: key not found")
)

// SecretType labels a secret for audit logs
type SecretType string

const (
	SecretDatabase SecretType = "database_credentials"
	SecretJWT      SecretType = "jwt_signing_secret"
	SecretRedis    SecretType = "redis_credentials"
	SecretStorage  SecretType = "storage_credentials"
)

// Reference points at one secret, optionally one key inside it.
//
// Syntax: [provider://][mount::]path[@version][#key]
type Reference struct {
	Name     string
	Type     SecretType
	Provider ProviderType
	Mount    string
	Path     string
	Version  string
	Key      string
}

// ParseReference parses raw into a Reference labelled with name and kind
func ParseReference(name string, kind SecretType, raw string) (Reference, error) {
	ref := Reference{Name: name, Type: kind}

	rest := strings.TrimSpace(raw)
	if provider, after, ok := strings.Cut(rest, "://"); ok && provider != "" {
		ref.Provider = ProviderType(provider)
		rest = after
	}
	if before, key, ok := strings.Cut(rest, "#"); ok {
		ref.Key = strings.TrimSpace(key)
		rest = before
	}
	if before, version, ok := strings.Cut(rest, "@"); ok {
		ref.Version = strings.TrimSpace(version)
		rest = before
	}
	if mount, path, ok := strings.Cut(rest, "::"); ok {
		ref.Mount = strings.Trim(strings.TrimSpace(mount), "/")
		rest = path
	}

	ref.Path = strings.Trim(strings.TrimSpace(rest), "/")
	if ref.Path == "" {
		return ref, ErrInvalidReference
	}
	return ref, nil
}

// cacheKey identifies the fetched payload, so references differing only by
// Key share one cache entry
func (r Reference) cacheKey() string {
	var sb strings.Builder
	sb.WriteString(string(r.Provider))
	sb.WriteString("|")
	sb.WriteString(r.Mount)
	sb.WriteString("|")
	sb.WriteString(r.Path)
	if r.Version != "" {
		sb.WriteString("@")
		sb.WriteString(r.Version)
	}
	return sb.String()
}
