// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/incremental/services/incremental/options"
)

// Config configures a FileManager.
type Config struct {
	// Mode selects delete-immediately or transactional behaviour. An unset
	// mode means delete-immediately.
	Mode options.ArtifactManagerMode

	// Root is the output tree. Pruning of empty directories never removes
	// Root or anything above it. Empty disables the bound.
	Root string

	// BackupDir receives files deleted in transactional mode. Defaults to a
	// hidden sibling of Root, or a temporary directory when Root is empty.
	// It is created on first use and removed by Complete.
	BackupDir string

	// RunID names the backup directory. Defaults to a fresh UUID.
	RunID string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type backup struct {
	original string
	saved    string
}

// FileManager is the filesystem Manager.
//
// # Thread Safety
//
// Calls are serialized by an internal mutex so that worker goroutines of a
// single round may report concurrently. Two FileManagers must never share
// an output tree.
type FileManager struct {
	mode      options.ArtifactManagerMode
	root      string
	backupDir string
	runID     string
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	started   time.Time
	generated map[string]struct{}
	backups   []backup
	backedUp  map[string]struct{}
	deleted   int
}

// New creates a FileManager in StateTracking.
//
// # Inputs
//
//   - cfg: Manager configuration. Mode must be a known mode.
//
// # Outputs
//
//   - *FileManager: Ready to track one run.
//   - error: Non-nil for an unknown mode or an unusable Root.
func New(cfg Config) (*FileManager, error) {
	mode := cfg.Mode
	switch mode {
	case options.ModeUnset:
		mode = options.ModeDeleteImmediately
	case options.ModeDeleteImmediately, options.ModeTransactional:
	default:
		return nil, fmt.Errorf("%w: %q", options.ErrUnknownMode, mode)
	}

	root := cfg.Root
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve output root: %w", err)
		}
		root = abs
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	backupDir := cfg.BackupDir
	if backupDir == "" && mode == options.ModeTransactional {
		if root != "" {
			backupDir = filepath.Join(filepath.Dir(root), "."+filepath.Base(root)+".backup-"+runID)
		} else {
			backupDir = filepath.Join(os.TempDir(), "incremental-backup-"+runID)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	_ = initMetrics()

	return &FileManager{
		mode:      mode,
		root:      root,
		backupDir: backupDir,
		runID:     runID,
		logger:    logger.With("component", "artifact.FileManager", "run_id", runID),
		state:     StateTracking,
		started:   time.Now(),
		generated: make(map[string]struct{}),
		backedUp:  make(map[string]struct{}),
	}, nil
}

// Mode returns the resolved mode.
func (m *FileManager) Mode() options.ArtifactManagerMode { return m.mode }

// State returns the current lifecycle state.
func (m *FileManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GeneratedPaths returns the artifacts recorded by Generated and not since
// deleted, sorted.
func (m *FileManager) GeneratedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.generated))
	for p := range m.generated {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (m *FileManager) requireTracking(op string) error {
	if m.state != StateTracking {
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, m.state)
	}
	return nil
}

// Delete implements Manager.
//
// # Description
//
// In transactional mode a file that existed before the run is moved into
// the backup directory so Complete(false) can restore it; a file generated
// earlier in the same run is simply removed. In delete-immediately mode
// every file is removed. Either way, ancestors left empty are pruned up to
// Root.
//
// # Outputs
//
//   - error: ErrInvalidState after Complete, or an *IOError. The first
//     I/O failure stops the call.
func (m *FileManager) Delete(ctx context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTracking("delete"); err != nil {
		return err
	}

	removed := 0
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ioErr("delete", p, err)
		}
		info, err := os.Lstat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			delete(m.generated, abs)
			continue
		}
		if err != nil {
			return ioErr("delete", abs, err)
		}
		if info.IsDir() {
			return ioErr("delete", abs, errors.New("is a directory"))
		}

		_, ownOutput := m.generated[abs]
		if m.mode == options.ModeTransactional && !ownOutput {
			if err := m.moveToBackup(abs); err != nil {
				return err
			}
		} else if err := os.Remove(abs); err != nil {
			return ioErr("delete", abs, err)
		}
		delete(m.generated, abs)
		removed++

		if err := m.pruneEmptyParents(abs); err != nil {
			return err
		}
	}

	m.deleted += removed
	recordDeleted(ctx, removed, m.mode)
	m.logger.Debug("artifacts deleted", slog.Int("count", removed))
	return nil
}

// Generated implements Manager. It touches nothing on disk.
func (m *FileManager) Generated(ctx context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTracking("generated"); err != nil {
		return err
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ioErr("record", p, err)
		}
		m.generated[abs] = struct{}{}
	}
	recordGenerated(ctx, len(paths), m.mode)
	return nil
}

// Complete implements Manager.
//
// # Description
//
// Complete(true) keeps every generated artifact and discards the backups.
// Complete(false) in transactional mode deletes every generated artifact
// and restores every backed-up one; in delete-immediately mode it changes
// nothing on disk. The state becomes terminal even when rollback fails.
//
// # Outputs
//
//   - error: ErrInvalidState if already completed, or the joined
//     *IOError values of a failed rollback or cleanup.
func (m *FileManager) Complete(ctx context.Context, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTracking("complete"); err != nil {
		return err
	}

	var err error
	if success {
		m.state = StateCommitted
		err = m.discardBackups()
		m.logger.Info("artifacts committed",
			slog.Int("generated", len(m.generated)),
			slog.Int("deleted", m.deleted),
		)
	} else {
		m.state = StateRolledBack
		if m.mode == options.ModeTransactional {
			err = m.rollback()
		}
		m.logger.Warn("artifacts rolled back",
			slog.String("mode", string(m.mode)),
			slog.Int("generated", len(m.generated)),
			slog.Int("restored", len(m.backups)),
		)
	}
	recordComplete(ctx, success, m.mode, time.Since(m.started), err)
	return err
}

// rollback removes generated artifacts, then restores backups. Every step
// is attempted; failures are joined.
func (m *FileManager) rollback() error {
	var errs []error

	generated := make([]string, 0, len(m.generated))
	for p := range m.generated {
		generated = append(generated, p)
	}
	slices.Sort(generated)
	for _, p := range generated {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, ioErr("rollback-delete", p, err))
			continue
		}
		if err := m.pruneEmptyParents(p); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(m.backups) - 1; i >= 0; i-- {
		b := m.backups[i]
		if err := os.MkdirAll(filepath.Dir(b.original), 0o755); err != nil {
			errs = append(errs, ioErr("restore", b.original, err))
			continue
		}
		if err := moveFile(b.saved, b.original); err != nil {
			errs = append(errs, ioErr("restore", b.original, err))
		}
	}

	if len(errs) == 0 {
		if err := m.discardBackups(); err != nil {
			errs = append(errs, err)
		}
	} else {
		m.logger.Error("CRITICAL: artifact rollback incomplete, backups kept",
			slog.String("backup_dir", m.backupDir),
			slog.Int("failures", len(errs)),
		)
	}
	return errors.Join(errs...)
}

func (m *FileManager) discardBackups() error {
	if m.backupDir == "" || len(m.backups) == 0 {
		return nil
	}
	if err := os.RemoveAll(m.backupDir); err != nil {
		return ioErr("discard-backups", m.backupDir, err)
	}
	return nil
}

func (m *FileManager) moveToBackup(abs string) error {
	if _, done := m.backedUp[abs]; done {
		if err := os.Remove(abs); err != nil {
			return ioErr("delete", abs, err)
		}
		return nil
	}
	if err := os.MkdirAll(m.backupDir, 0o700); err != nil {
		return ioErr("backup", m.backupDir, err)
	}
	saved := filepath.Join(m.backupDir, fmt.Sprintf("%06d", len(m.backups)))
	if err := moveFile(abs, saved); err != nil {
		return ioErr("backup", abs, err)
	}
	m.backups = append(m.backups, backup{original: abs, saved: saved})
	m.backedUp[abs] = struct{}{}
	return nil
}

// pruneEmptyParents removes the ancestors of p that are empty, stopping at
// the first non-empty one or at Root.
func (m *FileManager) pruneEmptyParents(p string) error {
	for dir := filepath.Dir(p); m.mayPrune(dir); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return ioErr("prune", dir, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ioErr("prune", dir, err)
		}
	}
	return nil
}

func (m *FileManager) mayPrune(dir string) bool {
	if dir == filepath.Dir(dir) {
		return false
	}
	if m.root == "" {
		return true
	}
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// moveFile renames src to dst, copying across filesystems when a rename is
// not possible. Modification time is preserved because product stamps
// depend on it.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Remove(src)
}
