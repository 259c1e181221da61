package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileBackend reads secrets mounted as files, the way Kubernetes and Docker
// expose them. A directory yields one key per file; a single file is decoded
// as a JSON object or stored under "value".
type fileBackend struct {
	base string
}

func newFileBackend(base string) (backend, error) {
	if base == "" {
		base = "/var/run/secrets"
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("secrets: base path %s not accessible: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets: base path %s is not a directory", base)
	}
	return &fileBackend{base: base}, nil
}

func (f *fileBackend) Name() ProviderType { return ProviderFile }

func (f *fileBackend) Close() error { return nil }

func (f *fileBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	target := filepath.Join(f.base, filepath.Clean("/"+ref.Path))
	info, err := os.Stat(target)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: %s not found: %w", ref.Path, err)
	}

	if !info.IsDir() {
		content, err := os.ReadFile(target)
		if err != nil {
			return Secret{}, err
		}
		return Secret{Data: decodePayload(content)}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return Secret{}, err
	}
	data := make(map[string]string, len(entries))
	for _, entry := range entries {
		// skip the ..data style symlink directories Kubernetes adds
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "..") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(target, entry.Name()))
		if err != nil {
			return Secret{}, err
		}
		data[entry.Name()] = strings.TrimSpace(string(content))
	}
	return Secret{Data: data}, nil
}

// decodePayload reads a JSON object of strings, falling back to a single
// "value" entry for plain text
func decodePayload(raw []byte) map[string]string {
	data := map[string]string{}
	if len(raw) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err == nil {
		return data
	}
	return map[string]string{"value": strings.TrimSpace(string(raw))}
}
