package session

import (
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

const lockStripes = 64

// CreateOptions carries the caller-declared analysis configuration for a new
// session. All fields are optional.
type CreateOptions struct {
	Name          string
	StudyType     string
	EffectMeasure string
	AnalysisModel string
}

// Registry owns the session id to sandbox directory mapping. All paths it
// hands out are descendants of the configured sandbox root; same-id races on
// creation are serialized by a per-id lock stripe while independent sessions
// proceed concurrently.
type Registry struct {
	root   string
	store  *Store
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Session

	stripes [lockStripes]sync.Mutex
}

// NewRegistry creates a Registry rooted at root. The directory is created if
// missing. store may be nil, in which case no index is maintained.
func NewRegistry(root string, store *Store, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate,
			"failed to resolve sandbox root", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionCreate,
			"failed to create sandbox root", err)
	}
	return &Registry{
		root:   abs,
		store:  store,
		logger: logger,
		cache:  make(map[string]*Session),
	}, nil
}

// Root returns the sandbox root directory.
func (r *Registry) Root() string {
	return r.root
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.stripes[h.Sum32()%lockStripes]
}

// sessionPath maps an id onto a sandbox directory, rejecting any id whose
// resolved path would escape the root.
func (r *Registry) sessionPath(id string) (string, error) {
	if id == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput,
			"session id must not be empty", nil)
	}
	path := filepath.Join(r.root, id)
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.New(apperrors.ErrCodePathViolation,
			"session id resolves outside the sandbox root", err)
	}
	// One directory level per session; ids must not nest.
	if rel != filepath.Base(rel) || rel == "." {
		return "", apperrors.New(apperrors.ErrCodePathViolation,
			"session id must not contain path separators", nil)
	}
	return path, nil
}

// Create creates the sandbox for id, generating an identifier when id is
// empty. Calling Create twice with the same id returns the existing session
// without touching its directory tree.
func (r *Registry) Create(id string, opts CreateOptions) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	path, err := r.sessionPath(id)
	if err != nil {
		return nil, err
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := r.lookup(id, path); err == nil {
		return existing, nil
	}

	for _, dir := range []string{path,
		filepath.Join(path, InputDir),
		filepath.Join(path, ProcessingDir),
		filepath.Join(path, ResultsDir),
		filepath.Join(path, ScratchDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeSessionCreate,
				"failed to create session directory", err)
		}
	}

	meta := Metadata{
		SessionID:     id,
		Name:          opts.Name,
		StudyType:     opts.StudyType,
		EffectMeasure: opts.EffectMeasure,
		AnalysisModel: opts.AnalysisModel,
		Created:       time.Now().UTC(),
		Status:        StatusInitialized,
	}
	if err := writeMetadata(path, meta); err != nil {
		return nil, err
	}

	sess := &Session{ID: id, Path: path, Metadata: meta}

	r.mu.Lock()
	r.cache[id] = sess
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Upsert(meta); err != nil {
			// The filesystem stays authoritative; a failed index write
			// only degrades listing.
			r.logger.Warn("session index write failed",
				zap.String("session_id", id), zap.Error(err))
		}
	}

	r.logger.Info("session created",
		zap.String("session_id", id), zap.String("path", path))
	return sess, nil
}

// Resolve returns the session for id, failing with an unknown-session error
// when no sandbox exists.
func (r *Registry) Resolve(id string) (*Session, error) {
	path, err := r.sessionPath(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	if sess, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return sess, nil
	}
	r.mu.RUnlock()

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	return r.lookup(id, path)
}

// lookup loads a session from disk into the cache. Callers hold the id lock.
func (r *Registry) lookup(id, path string) (*Session, error) {
	r.mu.RLock()
	if sess, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return sess, nil
	}
	r.mu.RUnlock()

	meta, err := readMetadata(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUnknownSession,
			"session "+id+" is not registered", err)
	}

	sess := &Session{ID: id, Path: path, Metadata: meta}
	r.mu.Lock()
	r.cache[id] = sess
	r.mu.Unlock()
	return sess, nil
}

// List returns metadata for every session under the sandbox root, preferring
// the index and falling back to a directory scan.
func (r *Registry) List() ([]Metadata, error) {
	if r.store != nil {
		if metas, err := r.store.List(); err == nil {
			return metas, nil
		}
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to scan sandbox root", err)
	}
	var metas []Metadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := readMetadata(filepath.Join(r.root, entry.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// RecordInvocation notes a completed operation against a session in the
// index. Index failures are logged, never surfaced.
func (r *Registry) RecordInvocation(id, operation string) {
	if r.store == nil {
		return
	}
	if err := r.store.RecordInvocation(id, operation); err != nil {
		r.logger.Warn("session index update failed",
			zap.String("session_id", id), zap.Error(err))
	}
}

// PruneScratch removes leftover argument files from every session's scratch
// directory. Invocations clean up after themselves, but a killed process can
// strand its file. Returns the number of files removed; individual removal
// failures are aggregated, not fatal.
func (r *Registry) PruneScratch() (int, error) {
	metas, err := r.List()
	if err != nil {
		return 0, err
	}

	var errs *multierror.Error
	removed := 0
	for _, meta := range metas {
		sess, err := r.Resolve(meta.SessionID)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		entries, err := os.ReadDir(sess.ScratchPath())
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(sess.ScratchPath(), entry.Name())); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errs.ErrorOrNil()
}

func writeMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.ErrCodeSessionCreate,
			"failed to encode session metadata", err)
	}
	if err := os.WriteFile(filepath.Join(path, MetadataFile), data, 0644); err != nil {
		return apperrors.New(apperrors.ErrCodeSessionCreate,
			"failed to write session metadata", err)
	}
	return nil
}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
