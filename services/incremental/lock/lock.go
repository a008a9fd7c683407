// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileLocker is the platform lock primitive. Lock is non-blocking and
// returns errWouldBlock when another handle holds the lock.
type fileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

var errWouldBlock = errors.New("lock would block")

// DefaultPollInterval bounds how long Wait sleeps between attempts when no
// file event arrives.
const DefaultPollInterval = 2 * time.Second

// Path returns the lock file used for root: a hidden sibling of the
// output root, so the lock never appears inside the tree it guards.
func Path(root string) string {
	clean := filepath.Clean(root)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

// Lock is a held output lock.
//
// Thread Safety: Release is safe to call from any goroutine, once.
type Lock struct {
	path   string
	info   Info
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Acquire takes the lock for root without blocking.
//
// # Outputs
//
//   - *Lock: The held lock. Call Release when the session ends.
//   - error: *HeldError (Is ErrLocked) on contention, other errors on I/O
//     failure.
func Acquire(root, runID string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lock.Lock")

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving output root %s: %w", root, err)
	}
	path := Path(abs)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := platformLocker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, &HeldError{Path: abs, Holder: readInfo(path)}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	host, _ := os.Hostname()
	info := Info{
		Root:     abs,
		PID:      os.Getpid(),
		Host:     host,
		RunID:    runID,
		LockedAt: time.Now().UTC(),
	}
	if err := writeInfo(f, info); err != nil {
		_ = platformLocker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("writing lock info: %w", err)
	}

	logger.Debug("acquired output lock", slog.String("root", abs), slog.String("run_id", runID))
	return &Lock{path: path, info: info, logger: logger, file: f}, nil
}

// Wait acquires the lock for root, waiting for the current holder to
// release it. It watches the lock file for changes and also retries every
// pollInterval, so a missed event only delays acquisition.
func Wait(ctx context.Context, root, runID string, pollInterval time.Duration, logger *slog.Logger) (*Lock, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	l, err := Acquire(root, runID, logger)
	if err == nil || !errors.Is(err, ErrLocked) {
		return l, err
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr != nil {
		return nil, fmt.Errorf("creating file watcher: %w", werr)
	}
	defer watcher.Close()

	abs, _ := filepath.Abs(root)
	lockPath := Path(abs)
	if werr := watcher.Add(lockPath); werr != nil {
		logger.Debug("watching lock file failed, polling only",
			slog.String("path", lockPath),
			slog.String("error", werr.Error()),
		)
	}
	logger.Info("waiting for output lock", slog.String("error", err.Error()))

	events, errs := watcher.Events, watcher.Errors
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for output lock: %w", errors.Join(err, ctx.Err()))
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
		case <-ticker.C:
		}
		l, err = Acquire(root, runID, logger)
		if err == nil || !errors.Is(err, ErrLocked) {
			return l, err
		}
	}
}

// Info returns what this lock recorded about its holder.
func (l *Lock) Info() Info { return l.info }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release clears the holder info and unlocks. The lock file itself stays;
// removing it would race with a waiter opening it.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrNotHeld
	}
	f := l.file
	l.file = nil

	var errs []error
	if err := f.Truncate(0); err != nil {
		errs = append(errs, fmt.Errorf("clearing lock info: %w", err))
	}
	if err := platformLocker.Unlock(f); err != nil {
		errs = append(errs, fmt.Errorf("unlocking %s: %w", l.path, err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, err)
	}
	l.logger.Debug("released output lock", slog.String("root", l.info.Root))
	return errors.Join(errs...)
}

func writeInfo(f *os.File, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readInfo returns the recorded holder, or nil when the file is empty or
// unreadable.
func readInfo(path string) *Info {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
