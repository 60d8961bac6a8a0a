package syncer

import "context"

// ArtifactTransport is the capability SyncCoordinator consumes to reach
// the shared artifact location holding the three sync files. The real
// implementation (a version-controlled repository, object storage,
// etc.) lives outside this module; see pkg/syncer/localtransport for a
// filesystem-backed reference implementation used by this module's own
// tests. Per spec.md §6, any transport with fast-forward pull semantics
// is admissible.
type ArtifactTransport interface {
	// InitLocal prepares root as a fresh local artifact workspace with
	// no remote configured yet.
	InitLocal(ctx context.Context, root string) error

	// Clone populates root from an existing remote.
	Clone(ctx context.Context, remote, root string) error

	// Pull fast-forwards root's three files to the latest committed
	// state. ErrRemoteConflict if a fast-forward is not possible.
	Pull(ctx context.Context, root string) error

	// Commit writes files (named "timestamp", "instance", "changelog")
	// into root and commits them as a single artifact revision.
	Commit(ctx context.Context, root string, files map[string][]byte, message string) error

	// Push uploads the local commit on branch to the remote.
	// ErrRemoteConflict if the remote has diverged.
	Push(ctx context.Context, root, branch string) error

	// SetRemote configures url as the artifact's remote.
	// ErrRemoteAlreadyExists if one is already configured.
	SetRemote(ctx context.Context, url string) error

	// ClearRemote removes whatever remote is configured, if any.
	ClearRemote(ctx context.Context) error

	// ChangeRemote replaces the configured remote with url.
	ChangeRemote(ctx context.Context, url string) error
}
