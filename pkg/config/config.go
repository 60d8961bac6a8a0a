// Package config persists the two small values bdgt needs before any
// crypto or storage can operate: the asymmetric key identifier used to
// look up the user's keypair, and this installation's instance id. See
// SPEC_FULL.md §4.6.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

const (
	keyFileName      = "key"
	instanceFileName = "instance"
)

// Config holds the two persisted values, read once at construction.
type Config struct {
	KeyID      crypto.KeyIdentifier
	InstanceID uuid.UUID
}

// Load reads <root>/key and <root>/instance. Both files must already
// exist; use Create on first run.
func Load(root string) (Config, error) {
	keyID, err := os.ReadFile(filepath.Join(root, keyFileName))
	if err != nil {
		return Config{}, fmt.Errorf("read key id: %w: %w", err, types.ErrIO)
	}
	instanceText, err := os.ReadFile(filepath.Join(root, instanceFileName))
	if err != nil {
		return Config{}, fmt.Errorf("read instance id: %w: %w", err, types.ErrIO)
	}
	instanceID, err := uuid.Parse(string(instanceText))
	if err != nil {
		return Config{}, fmt.Errorf("parse instance id: %w: %w", err, types.ErrMalformed)
	}
	return Config{KeyID: crypto.KeyIdentifier(keyID), InstanceID: instanceID}, nil
}

// Create writes <root>/key and <root>/instance for a fresh installation.
// instanceID is normally a freshly generated uuid.New(); it is taken as a
// parameter so tests can fix it. Create fails if either file already
// exists, since both are meant to be immutable after first use.
func Create(root string, keyID crypto.KeyIdentifier, instanceID uuid.UUID) (Config, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return Config{}, fmt.Errorf("create config dir: %w: %w", err, types.ErrIO)
	}
	if err := writeOnce(filepath.Join(root, keyFileName), []byte(keyID)); err != nil {
		return Config{}, err
	}
	if err := writeOnce(filepath.Join(root, instanceFileName), []byte(instanceID.String())); err != nil {
		return Config{}, err
	}
	return Config{KeyID: keyID, InstanceID: instanceID}, nil
}

// Exists reports whether a config has already been created at root.
func Exists(root string) bool {
	_, err := os.Stat(filepath.Join(root, keyFileName))
	return err == nil
}

func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	return nil
}
