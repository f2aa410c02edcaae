// Package filesystem implements the batch inbox on local directories.
//
// A batch file travels input -> input/.processing -> archive, or
// input/.processing -> diagnostics when it fails. Files are moved, never
// deleted, until diagnostics retention expires.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// Ensure Inbox implements the interface.
var _ driven.Inbox = (*Inbox)(nil)

const (
	// ClaimedDir is the claimed area inside a mandate's input directory.
	ClaimedDir = ".processing"

	// FailureSuffix is appended to a quarantined file's name for its failure record.
	FailureSuffix = ".failure.json"

	batchExt = ".pdf"
	dirPerm  = 0o755
	filePerm = 0o644
)

// Inbox manages mandate directories on the local filesystem.
type Inbox struct {
	now func() time.Time
}

// New creates a filesystem inbox.
func New() *Inbox {
	return &Inbox{now: time.Now}
}

// List returns unclaimed PDF files in the input directory, oldest first.
// Hidden files and directories are ignored.
func (i *Inbox) List(ctx context.Context, mandate *domain.Mandate) ([]domain.Batch, error) {
	return i.scan(ctx, mandate, mandate.InputDir)
}

// Claimed returns batches left in the claimed area by an earlier cycle.
func (i *Inbox) Claimed(ctx context.Context, mandate *domain.Mandate) ([]domain.Batch, error) {
	dir := claimedDir(mandate)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	batches, err := i.scan(ctx, mandate, dir)
	if err != nil {
		return nil, err
	}
	for n := range batches {
		id, err := digest(batches[n].SourcePath)
		if err != nil {
			return nil, err
		}
		batches[n].ID = id
	}
	return batches, nil
}

// Stat describes a batch file without claiming it.
func (i *Inbox) Stat(ctx context.Context, path string) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnreadableBatch, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, path)
	}
	id, err := digest(path)
	if err != nil {
		return nil, err
	}
	return &domain.Batch{
		ID:           id,
		SourcePath:   path,
		Name:         filepath.Base(path),
		DiscoveredAt: info.ModTime(),
	}, nil
}

// Claim moves a listed batch into the claimed area and assigns its
// content digest as ID.
func (i *Inbox) Claim(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := digest(batch.SourcePath)
	if err != nil {
		return err
	}
	batch.ID = id
	dest, err := i.move(batch.SourcePath, claimedDir(mandate), batch)
	if err != nil {
		return fmt.Errorf("claim %s: %w", batch.Name, err)
	}
	batch.SourcePath = dest
	return nil
}

// Archive moves a claimed batch to the archive directory.
func (i *Inbox) Archive(ctx context.Context, mandate *domain.Mandate, batch *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := i.move(batch.SourcePath, mandate.ArchiveDir, batch)
	if err != nil {
		return fmt.Errorf("archive %s: %w", batch.Name, err)
	}
	batch.SourcePath = dest
	return nil
}

// Quarantine moves a claimed batch to the diagnostics directory and writes
// its failure record next to it. The move and the record are independent:
// if the file cannot be moved the record is still written.
//
// The quarantined file is stamped with the failure time, so retention
// counts from quarantine rather than from when the batch was scanned.
func (i *Inbox) Quarantine(_ context.Context, mandate *domain.Mandate, batch *domain.Batch, failure driven.FailureRecord) error {
	dest, moveErr := i.move(batch.SourcePath, mandate.DiagnosticsDir, batch)
	if moveErr != nil {
		dest = filepath.Join(mandate.DiagnosticsDir, batch.Name)
	} else {
		batch.SourcePath = dest
		stamp := failure.FailedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}
		if err := os.Chtimes(dest, stamp, stamp); err != nil {
			logger.Warn("quarantine %s: cannot reset modification time: %v", batch.Name, err)
		}
	}

	data, err := json.MarshalIndent(failure, "", "  ")
	if err != nil {
		return errors.Join(moveErr, fmt.Errorf("encode failure record: %w", err))
	}
	if err := os.MkdirAll(mandate.DiagnosticsDir, dirPerm); err != nil {
		return errors.Join(moveErr, fmt.Errorf("create diagnostics directory: %w", err))
	}
	if err := os.WriteFile(dest+FailureSuffix, data, filePerm); err != nil {
		return errors.Join(moveErr, fmt.Errorf("write failure record: %w", err))
	}
	if moveErr != nil {
		return fmt.Errorf("quarantine %s: %w", batch.Name, moveErr)
	}
	return nil
}

// Purge removes files in the diagnostics directory older than the
// mandate's retention.
func (i *Inbox) Purge(ctx context.Context, mandate *domain.Mandate, now time.Time) (int, error) {
	if mandate.Retention.MaxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(mandate.DiagnosticsDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read diagnostics directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !mandate.Retention.Expired(info.ModTime(), now) {
			continue
		}
		if err := os.Remove(filepath.Join(mandate.DiagnosticsDir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Watch signals when a PDF appears or changes in the input directory.
// Bursts of events collapse into a single pending signal.
func (i *Inbox) Watch(ctx context.Context, mandate *domain.Mandate) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(mandate.InputDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", mandate.InputDir, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !relevant(event) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watch %s: %v", mandate.InputDir, err)
			}
		}
	}()
	return wake, nil
}

// relevant reports whether an event may have produced a new batch file.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return isBatchFile(filepath.Base(event.Name))
}

func (i *Inbox) scan(ctx context.Context, mandate *domain.Mandate, dir string) ([]domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	batches := make([]domain.Batch, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isBatchFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		batches = append(batches, domain.Batch{
			MandateID:    mandate.ID,
			SourcePath:   filepath.Join(dir, entry.Name()),
			Name:         entry.Name(),
			DiscoveredAt: info.ModTime(),
		})
	}
	sort.SliceStable(batches, func(a, b int) bool {
		if !batches[a].DiscoveredAt.Equal(batches[b].DiscoveredAt) {
			return batches[a].DiscoveredAt.Before(batches[b].DiscoveredAt)
		}
		return batches[a].Name < batches[b].Name
	})
	return batches, nil
}

// move places src into dir under the batch's name. If the name is taken a
// digest suffix keeps both files.
func (i *Inbox) move(src, dir string, batch *domain.Batch) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, batch.Name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(batch.Name)
		stem := strings.TrimSuffix(batch.Name, ext)
		suffix := batch.ID
		if len(suffix) > 12 {
			suffix = suffix[:12]
		}
		if suffix == "" {
			suffix = fmt.Sprint(i.now().UnixNano())
		}
		dest = filepath.Join(dir, stem+"-"+suffix+ext)
	}
	if err := os.Rename(src, dest); err == nil {
		return dest, nil
	}
	// Rename fails across devices; fall back to copy and remove.
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// digest returns the hex SHA-256 of a file's content.
func digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnreadableBatch, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnreadableBatch, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func claimedDir(mandate *domain.Mandate) string {
	return filepath.Join(mandate.InputDir, ClaimedDir)
}

func isBatchFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), batchExt)
}
