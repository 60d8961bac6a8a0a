// Package syncer implements bdgt's SyncCoordinator: pull -> decrypt
// remote -> export local delta -> merge remote -> concatenate ->
// re-envelope -> push -> write last-sync -> purge. See SPEC_FULL.md
// §4.5.
package syncer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/log"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

const (
	repositoryDir  = "repository"
	timestampFile  = "timestamp"
	instanceFile   = "instance"
	changelogFile  = "changelog"
	lastSyncFile   = "last-sync"
	syncDir        = "sync"
	pushBranch     = "main"
)

// EntityCodec is what SyncCoordinator needs from the domain layer: a way
// to export this instance's local delta since a given timestamp, and a
// way to apply an already-decoded remote Changelog into the local store.
// pkg/budget.Budget implements this, keeping field-level
// encryption/decryption a Budget concern the Coordinator never touches.
type EntityCodec interface {
	// ExportSince returns every local row added/changed/removed at or
	// after since, decrypted to plaintext entity shape, across all four
	// entity kinds. No origin filtering: everything since the last sync
	// is, by construction, of local origin.
	ExportSince(since int64) (Changelog, error)

	// ApplyRemote merges remote into the local store, applying only
	// rows with Meta.Origin != localInstance and a relevant timestamp
	// >= since, in the fixed dependency order SPEC_FULL.md §4.5
	// describes.
	ApplyRemote(remote Changelog, localInstance uuid.UUID, since int64) error

	// Purge permanently deletes tombstoned rows, called as the sync
	// cycle's last step.
	Purge() error
}

// Coordinator is bdgt's SyncCoordinator.
type Coordinator struct {
	engine     *crypto.Engine
	transport  ArtifactTransport
	codec      EntityCodec
	instanceID uuid.UUID
	root       string
	Clock      types.Clock
}

// New returns a Coordinator rooted at root (the same root Budget and the
// store use); root/sync/repository holds the three shared artifact
// files, root/sync/last-sync holds this instance's local bookmark.
func New(engine *crypto.Engine, transport ArtifactTransport, codec EntityCodec, instanceID uuid.UUID, root string) *Coordinator {
	return &Coordinator{
		engine:     engine,
		transport:  transport,
		codec:      codec,
		instanceID: instanceID,
		root:       root,
		Clock:      types.RealClock,
	}
}

func (c *Coordinator) repoRoot() string     { return filepath.Join(c.root, syncDir, repositoryDir) }
func (c *Coordinator) lastSyncPath() string { return filepath.Join(c.root, syncDir, lastSyncFile) }

// Sync runs one full pull/merge/export/push cycle against auth, the
// sync password.
func (c *Coordinator) Sync(ctx context.Context, auth string) error {
	lastSync, err := c.readLastSync()
	if err != nil {
		return err
	}

	if err := c.transport.Pull(ctx, c.repoRoot()); err != nil {
		return fmt.Errorf("sync pull: %w", err)
	}

	remoteTimestamp, remoteInstance, cumulative, err := c.readRemote(auth)
	if err != nil {
		return err
	}

	localDelta, err := c.codec.ExportSince(lastSync)
	if err != nil {
		return fmt.Errorf("sync export local delta: %w", err)
	}

	if err := c.codec.ApplyRemote(cumulative, c.instanceID, lastSync); err != nil {
		return fmt.Errorf("sync merge remote: %w", err)
	}
	log.Debug(fmt.Sprintf("sync: merged remote changelog from instance %s at %d", remoteInstance, remoteTimestamp))

	newCumulative := cumulative.merge(localDelta)

	tNew := c.Clock()
	if err := c.writeRemote(ctx, auth, tNew, newCumulative); err != nil {
		return err
	}

	if err := c.transport.Push(ctx, c.repoRoot(), pushBranch); err != nil {
		return fmt.Errorf("sync push: %w", err)
	}

	if err := c.writeLastSync(tNew); err != nil {
		return err
	}
	return c.codec.Purge()
}

func (c *Coordinator) readLastSync() (int64, error) {
	data, err := os.ReadFile(c.lastSyncPath())
	if errors.Is(err, os.ErrNotExist) {
		// First-ever sync: epoch-zero + 1 second, so predefined
		// category rows timestamped at epoch-zero are skipped.
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last-sync: %w: %w", err, types.ErrIO)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("last-sync is %d bytes, want 8: %w", len(data), types.ErrMalformedLastSync)
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

func (c *Coordinator) writeLastSync(ts int64) error {
	if err := os.MkdirAll(filepath.Dir(c.lastSyncPath()), 0o700); err != nil {
		return fmt.Errorf("create sync dir: %w: %w", err, types.ErrIO)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(ts))
	if err := os.WriteFile(c.lastSyncPath(), buf, 0o600); err != nil {
		return fmt.Errorf("write last-sync: %w: %w", err, types.ErrIO)
	}
	return nil
}

// readRemote reads and decrypts the three artifact files, returning an
// empty Changelog if the artifact has never been written.
func (c *Coordinator) readRemote(auth string) (timestamp int64, instance uuid.UUID, cumulative Changelog, err error) {
	tsBytes, err := readOptional(filepath.Join(c.repoRoot(), timestampFile))
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, err
	}
	instBytes, err := readOptional(filepath.Join(c.repoRoot(), instanceFile))
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, err
	}
	clBytes, err := readOptional(filepath.Join(c.repoRoot(), changelogFile))
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, err
	}

	empty := 0
	for _, b := range [][]byte{tsBytes, instBytes, clBytes} {
		if len(b) == 0 {
			empty++
		}
	}
	if empty == 3 {
		return 0, uuid.UUID{}, Changelog{}, nil
	}
	if empty != 0 {
		return 0, uuid.UUID{}, Changelog{}, fmt.Errorf("artifact has %d empty of 3 files: %w", empty, types.ErrMalformedArtifact)
	}

	if len(tsBytes) != 8 {
		return 0, uuid.UUID{}, Changelog{}, fmt.Errorf("artifact timestamp is %d bytes, want 8: %w", len(tsBytes), types.ErrMalformedArtifact)
	}
	timestamp = int64(binary.LittleEndian.Uint64(tsBytes))
	if len(instBytes) != 16 {
		return 0, uuid.UUID{}, Changelog{}, fmt.Errorf("artifact instance is %d bytes, want 16: %w", len(instBytes), types.ErrMalformedArtifact)
	}
	copy(instance[:], instBytes)

	salt := envelopeSalt(tsBytes, instBytes)
	key, err := crypto.DeriveKey([]byte(auth), salt, c.engine.SymmetricKeyLength())
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, fmt.Errorf("derive sync key: %w", err)
	}
	defer key.Release()

	plain, err := c.engine.DecryptSymmetric(key.Bytes(), clBytes)
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, err
	}
	defer plain.Release()

	cumulative, err = decodeChangelog(plain.Bytes())
	if err != nil {
		return 0, uuid.UUID{}, Changelog{}, fmt.Errorf("%w: %w", err, types.ErrMalformedArtifact)
	}
	return timestamp, instance, cumulative, nil
}

// writeRemote re-envelopes cumulative under a fresh timestamp/instance
// salt and commits the three artifact files.
func (c *Coordinator) writeRemote(ctx context.Context, auth string, tNew int64, cumulative Changelog) error {
	tsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBytes, uint64(tNew))
	instBytes := c.instanceID[:]

	salt := envelopeSalt(tsBytes, instBytes)
	key, err := crypto.DeriveKey([]byte(auth), salt, c.engine.SymmetricKeyLength())
	if err != nil {
		return fmt.Errorf("derive sync key: %w", err)
	}
	defer key.Release()

	plain, err := encodeChangelog(cumulative)
	if err != nil {
		return err
	}
	ciphertext, err := c.engine.EncryptSymmetric(key.Bytes(), plain)
	if err != nil {
		return err
	}
	defer ciphertext.Release()

	files := map[string][]byte{
		timestampFile: tsBytes,
		instanceFile:  append([]byte{}, instBytes...),
		changelogFile: append([]byte{}, ciphertext.Bytes()...),
	}
	if err := c.transport.Commit(ctx, c.repoRoot(), files, "bdgt sync"); err != nil {
		return fmt.Errorf("sync commit: %w", err)
	}
	return nil
}

func envelopeSalt(timestampBytes, instanceBytes []byte) []byte {
	salt := make([]byte, 0, len(timestampBytes)+len(instanceBytes))
	salt = append(salt, timestampBytes...)
	salt = append(salt, instanceBytes...)
	return salt
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", filepath.Base(path), err, types.ErrIO)
	}
	return data, nil
}
