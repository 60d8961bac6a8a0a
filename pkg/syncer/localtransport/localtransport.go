// Package localtransport is a filesystem-backed reference
// implementation of syncer.ArtifactTransport, good enough for tests and
// for a single-machine multi-"instance" integration test without
// requiring a real version-controlled-repository dependency. See
// SPEC_FULL.md §4.5.
package localtransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdgt-sh/bdgt/pkg/syncer"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

var _ syncer.ArtifactTransport = (*Transport)(nil)

var artifactFiles = []string{"timestamp", "instance", "changelog"}

// Transport is a directory acting as the shared artifact location. Every
// write goes through an fsync'd rename-into-place so a crash mid-write
// never leaves a torn file behind.
type Transport struct {
	mu     sync.Mutex
	remote string
	pulled []byte // snapshot of remote's timestamp file at last Pull, for a fast-forward check on Push
}

// New returns a Transport with no remote configured; call SetRemote or
// Clone before Pull/Push.
func New() *Transport {
	return &Transport{}
}

// InitLocal prepares root as an empty local workspace.
func (t *Transport) InitLocal(ctx context.Context, root string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("init local: %w: %w", err, types.ErrIO)
	}
	return nil
}

// Clone configures remote as the transport's remote and pulls its
// current state into root.
func (t *Transport) Clone(ctx context.Context, remote, root string) error {
	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()
	return t.Pull(ctx, root)
}

// Pull copies whatever artifact files exist at the remote into root.
func (t *Transport) Pull(ctx context.Context, root string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("pull: %w: %w", err, types.ErrIO)
	}
	remote := t.remoteDir()
	if remote == "" {
		return nil
	}
	for _, name := range artifactFiles {
		data, err := os.ReadFile(filepath.Join(remote, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pull %s: %w: %w", name, err, types.ErrIO)
		}
		if err := writeAtomic(filepath.Join(root, name), data); err != nil {
			return err
		}
	}
	ts, _ := os.ReadFile(filepath.Join(remote, "timestamp"))
	t.mu.Lock()
	t.pulled = ts
	t.mu.Unlock()
	return nil
}

// Commit writes files into root.
func (t *Transport) Commit(ctx context.Context, root string, files map[string][]byte, message string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("commit: %w: %w", err, types.ErrIO)
	}
	for name, data := range files {
		if err := writeAtomic(filepath.Join(root, name), data); err != nil {
			return err
		}
	}
	return nil
}

// Push uploads root's artifact files to the remote, failing with
// ErrRemoteConflict if the remote's timestamp file has changed since the
// last Pull (another writer pushed in between — the fast-forward check
// spec.md §7 names).
func (t *Transport) Push(ctx context.Context, root, branch string) error {
	remote := t.remoteDir()
	if remote == "" {
		return fmt.Errorf("push: no remote configured: %w", types.ErrIO)
	}
	current, _ := os.ReadFile(filepath.Join(remote, "timestamp"))
	t.mu.Lock()
	pulled := t.pulled
	t.mu.Unlock()
	if !bytes.Equal(current, pulled) {
		return fmt.Errorf("push: %w", types.ErrRemoteConflict)
	}

	if err := os.MkdirAll(remote, 0o700); err != nil {
		return fmt.Errorf("push: %w: %w", err, types.ErrIO)
	}
	for _, name := range artifactFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			return fmt.Errorf("push %s: %w: %w", name, err, types.ErrIO)
		}
		if err := writeAtomic(filepath.Join(remote, name), data); err != nil {
			return err
		}
	}
	return nil
}

// SetRemote configures the shared directory. Fails with
// ErrRemoteAlreadyExists if one is already configured.
func (t *Transport) SetRemote(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote != "" {
		return fmt.Errorf("set remote: %w", types.ErrRemoteAlreadyExists)
	}
	t.remote = url
	return nil
}

// ClearRemote removes whatever remote is configured.
func (t *Transport) ClearRemote(ctx context.Context) error {
	t.mu.Lock()
	t.remote = ""
	t.mu.Unlock()
	return nil
}

// ChangeRemote replaces the configured remote with url.
func (t *Transport) ChangeRemote(ctx context.Context, url string) error {
	t.mu.Lock()
	t.remote = url
	t.mu.Unlock()
	return nil
}

func (t *Transport) remoteDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// writeAtomic writes data to a temp file in path's directory, fsyncs it,
// then renames it into place and fsyncs the directory — the durability
// idiom bbolt itself relies on at the OS level, applied here to the
// plain files this transport owns.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}
	return nil
}
