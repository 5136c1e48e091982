package traits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-traits/pkg/observe"
	"github.com/google/uuid"
)

const (
	snapshotFormat  = "traits.snapshot"
	snapshotVersion = 1
)

var (
	// ErrSnapshotExists indicates Save refused to clobber an existing file.
	ErrSnapshotExists = errors.New("traits: snapshot path already exists")
	// ErrSnapshotFormat indicates a blob whose envelope or state payload does
	// not match the expected schema.
	ErrSnapshotFormat = errors.New("traits: snapshot format mismatch")
)

// BeforeSaver lets a state type adjust itself before serialization.
type BeforeSaver interface {
	BeforeSave() error
}

// AfterLoader lets a state type rebuild transient fields after
// deserialization.
type AfterLoader interface {
	AfterLoad() error
}

// SnapshotOption configures Save and Load.
type SnapshotOption func(*snapshotConfig)

type snapshotConfig struct {
	overwrite bool
	emitter   *observe.Emitter
}

// WithOverwrite lets Save replace an existing file.
func WithOverwrite() SnapshotOption {
	return func(cfg *snapshotConfig) {
		cfg.overwrite = true
	}
}

// WithObserver routes snapshot events through emitter.
func WithObserver(emitter *observe.Emitter) SnapshotOption {
	return func(cfg *snapshotConfig) {
		cfg.emitter = emitter
	}
}

type snapshotEnvelope struct {
	Format     string          `json:"format"`
	Version    int             `json:"version"`
	SnapshotID string          `json:"snapshot_id"`
	SavedAt    time.Time       `json:"saved_at"`
	State      json.RawMessage `json:"state"`
}

// Save serializes state to a JSON snapshot at path. The blob is written to a
// temporary file in the destination directory and atomically renamed into
// place, so a failed save never leaves a partial file visible. Fields tagged
// `json:"-"` are excluded; types implementing BeforeSaver are invoked before
// marshalling.
//
// Save refuses to replace an existing file unless WithOverwrite is given.
func Save[T any](path string, state T, opts ...SnapshotOption) error {
	cfg := applySnapshotOptions(opts)

	if !cfg.overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrSnapshotExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if err := callBeforeSave(&state); err != nil {
		return err
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("traits: marshal snapshot state: %w", err)
	}
	envelope := snapshotEnvelope{
		Format:     snapshotFormat,
		Version:    snapshotVersion,
		SnapshotID: uuid.NewString(),
		SavedAt:    time.Now().UTC(),
		State:      payload,
	}

	if err := writeAtomic(path, envelope); err != nil {
		return err
	}

	if cfg.emitter.Enabled() {
		_ = cfg.emitter.Emit(context.Background(), observe.Event{
			Verb:     observe.VerbSnapshotSaved,
			Trait:    "saveable",
			Key:      path,
			Metadata: map[string]any{"snapshot_id": envelope.SnapshotID},
		})
	}
	return nil
}

// Load reconstructs a state value of type T from a snapshot written by Save.
// An envelope with the wrong format or version, or a state payload whose
// shape does not match T, fails with ErrSnapshotFormat. Types implementing
// AfterLoader are invoked after decoding.
func Load[T any](path string, opts ...SnapshotOption) (T, error) {
	cfg := applySnapshotOptions(opts)

	var zero T
	raw, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}
	if envelope.Format != snapshotFormat {
		return zero, fmt.Errorf("%w: unexpected format %q", ErrSnapshotFormat, envelope.Format)
	}
	if envelope.Version != snapshotVersion {
		return zero, fmt.Errorf("%w: unsupported version %d", ErrSnapshotFormat, envelope.Version)
	}

	decoder := json.NewDecoder(bytes.NewReader(envelope.State))
	decoder.DisallowUnknownFields()
	var state T
	if err := decoder.Decode(&state); err != nil {
		return zero, fmt.Errorf("%w: state: %v", ErrSnapshotFormat, err)
	}

	if err := callAfterLoad(&state); err != nil {
		return zero, err
	}

	if cfg.emitter.Enabled() {
		_ = cfg.emitter.Emit(context.Background(), observe.Event{
			Verb:     observe.VerbSnapshotLoaded,
			Trait:    "saveable",
			Key:      path,
			Metadata: map[string]any{"snapshot_id": envelope.SnapshotID},
		})
	}
	return state, nil
}

func applySnapshotOptions(opts []SnapshotOption) snapshotConfig {
	cfg := snapshotConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func callBeforeSave[T any](state *T) error {
	if hook, ok := any(state).(BeforeSaver); ok {
		return hook.BeforeSave()
	}
	if hook, ok := any(*state).(BeforeSaver); ok {
		return hook.BeforeSave()
	}
	return nil
}

func callAfterLoad[T any](state *T) error {
	if hook, ok := any(state).(AfterLoader); ok {
		return hook.AfterLoad()
	}
	if hook, ok := any(*state).(AfterLoader); ok {
		return hook.AfterLoad()
	}
	return nil
}

func writeAtomic(path string, envelope snapshotEnvelope) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(envelope); err != nil {
		cleanup()
		return fmt.Errorf("traits: encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
