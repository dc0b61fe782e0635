package collection

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hyperengineering/cardvault/internal/types"
	"gopkg.in/yaml.v3"
)

// Meta is the sidecar persisted next to the database as meta.yaml.
type Meta struct {
	Created       time.Time           `yaml:"created"`
	LastOpened    time.Time           `yaml:"last_opened"`
	SchemaVersion int64               `yaml:"schema_version"`
	LastImport    *types.ImportReport `yaml:"last_import,omitempty"`
}

// LoadMeta reads the sidecar at path. A missing file yields fresh metadata.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Meta{Created: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse collection metadata: %w", err)
	}
	return &meta, nil
}

// SaveMeta writes the sidecar to path.
func SaveMeta(path string, meta *Meta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal collection metadata: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
