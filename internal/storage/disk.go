package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"glata-widget/pkg/logger"
)

// DiskStore keeps one JSON file per (session, key) under
// dataDir/<session>/<key>.json. Writes go through a temp file and
// rename so a crash never leaves a torn blob behind.
type DiskStore struct {
	dataDir string
	mu      sync.RWMutex
}

func NewDiskStore(dataDir string) *DiskStore {
	return &DiskStore{dataDir: dataDir}
}

func (d *DiskStore) Init() error {
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.WithComponent("storage").Infof("disk store initialized at %s", d.dataDir)
	return nil
}

// Close snapshots the data directory so an upgrade or crash loop can
// be rolled back by hand.
func (d *DiskStore) Close() error {
	return d.Backup()
}

// Backup copies every session directory into a timestamped folder under
// dataDir/backup.
func (d *DiskStore) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().Unix()))
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "backup" {
			continue
		}
		src := filepath.Join(d.dataDir, e.Name())
		dst := filepath.Join(backupDir, e.Name())
		if err := os.MkdirAll(dst, 0700); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := copyDir(src, dst); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.WithComponent("storage").Infof("backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (d *DiskStore) Put(sessionID, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.dataDir, encodeComponent(sessionID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	path := filepath.Join(dir, encodeComponent(key)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) Get(sessionID, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	path := filepath.Join(d.dataDir, encodeComponent(sessionID), encodeComponent(key)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return data, nil
}

func (d *DiskStore) Delete(sessionID, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dataDir, encodeComponent(sessionID), encodeComponent(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) DeleteScope(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.dataDir, encodeComponent(sessionID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) Scopes() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "backup" {
			ids = append(ids, decodeComponent(e.Name()))
		}
	}
	return ids, nil
}

// encodeComponent keeps logical key names (which may contain ':')
// filesystem-safe.
func encodeComponent(s string) string {
	return strings.ReplaceAll(s, ":", "__")
}

func decodeComponent(s string) string {
	return strings.ReplaceAll(s, "__", ":")
}
