// Package local stores attachments on the local filesystem. A bbolt index
// beside the files keeps each upload's descriptor so listings can report the
// original filename and content type.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
)

const (
	indexFile   = ".index.db"
	tempPrefix  = ".tmp-"
	indexBucket = "attachments"
)

// ErrInvalidPath is returned for paths that would escape the storage root.
var ErrInvalidPath = errors.New("invalid storage path")

// Store is the filesystem backend.
type Store struct {
	root string
	db   *bolt.DB
}

// Open prepares root and opens its descriptor index.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	db, err := bolt.Open(filepath.Join(root, indexFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(indexBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init storage index: %w", err)
	}

	return &Store{root: root, db: db}, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes data at desc.Path and records desc in the index.
func (s *Store) Put(_ context.Context, desc attachment.Descriptor, data []byte) error {
	full, err := s.resolve(desc.Path)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(full, data); err != nil {
		return err
	}

	enc, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(indexBucket)).Put([]byte(desc.Path), enc)
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", desc.Path, err)
	}
	return nil
}

// Get returns the bytes at p. A missing file yields an error matching fs.ErrNotExist.
func (s *Store) Get(_ context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Delete removes p and its index entry. It reports false if the file was
// already gone.
func (s *Store) Delete(_ context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}

	removed := true
	if err := os.Remove(full); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("remove %s: %w", p, err)
		}
		removed = false
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(indexBucket)).Delete([]byte(p))
	})
	if err != nil {
		return removed, fmt.Errorf("unindex %s: %w", p, err)
	}
	return removed, nil
}

// List returns the descriptors of every file stored under owner, newest first.
func (s *Store) List(_ context.Context, owner string) ([]attachment.Descriptor, error) {
	dir, err := s.resolve(owner)
	if err != nil {
		return nil, err
	}

	var out []attachment.Descriptor
	err = s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(indexBucket))
		return filepath.WalkDir(dir, func(full string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return nil
				}
				return walkErr
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
				return nil
			}

			rel, err := filepath.Rel(s.root, full)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)

			if raw := bucket.Get([]byte(key)); raw != nil {
				var desc attachment.Descriptor
				if err := json.Unmarshal(raw, &desc); err == nil {
					out = append(out, desc)
					return nil
				}
				log.Printf("[storage] skipping malformed index entry %s", key)
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			out = append(out, describe(owner, key, info))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", owner, err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// describe builds a descriptor for a file the index does not know about.
func describe(owner, key string, info fs.FileInfo) attachment.Descriptor {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return attachment.Descriptor{
		Owner:       owner,
		Filename:    info.Name(),
		Path:        key,
		ContentType: contentType,
		Size:        info.Size(),
		Backend:     attachment.BackendLocal,
		CreatedAt:   info.ModTime().UTC(),
	}
}

func (s *Store) resolve(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if p == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == indexFile {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return filepath.Join(s.root, clean), nil
}

func writeFileAtomic(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
