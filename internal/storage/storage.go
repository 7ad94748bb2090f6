// Package storage routes attachment uploads and downloads to the remote blob
// backend or the local filesystem.
//
// The backend is chosen once, when the Gateway is built: remote if it passes
// its health check, local otherwise. In remote mode a failed write is retried
// against the local store, so reads, deletes and listings consult both.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
)

var (
	ErrValidation = errors.New("invalid upload")
	ErrNotFound   = errors.New("file not found")
)

// ValidationError carries the reason an upload was rejected. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upload: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Backend is implemented by the local and remote stores.
type Backend interface {
	Put(ctx context.Context, desc attachment.Descriptor, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, owner string) ([]attachment.Descriptor, error)
}

// RemoteBackend is a Backend that can report its availability.
type RemoteBackend interface {
	Backend
	Healthy(ctx context.Context) error
}

// Gateway validates uploads and dispatches them to the selected backend.
type Gateway struct {
	mode   attachment.Backend
	remote Backend
	local  Backend
	now    func() time.Time
}

// New selects the backend. remote may be nil.
func New(ctx context.Context, local Backend, remote RemoteBackend) *Gateway {
	g := &Gateway{mode: attachment.BackendLocal, local: local, now: time.Now}

	if remote != nil {
		if err := remote.Healthy(ctx); err != nil {
			log.Printf("[storage] remote backend unavailable, using local storage: %v", err)
		} else {
			g.mode = attachment.BackendRemote
			g.remote = remote
		}
	}

	log.Printf("[storage] using %s backend", g.mode)
	return g
}

// Mode reports the backend chosen at startup.
func (g *Gateway) Mode() attachment.Backend {
	return g.mode
}

// Upload validates and stores data, returning its descriptor.
func (g *Gateway) Upload(ctx context.Context, data []byte, filename, owner, contentType string) (attachment.Descriptor, error) {
	if err := Validate(filename, int64(len(data))); err != nil {
		return attachment.Descriptor{}, err
	}
	if err := validateOwner(owner); err != nil {
		return attachment.Descriptor{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	now := g.now().UTC()
	path := GeneratePath(owner, filename, now)
	desc := attachment.Descriptor{
		ID:          uuid.NewString(),
		Owner:       owner,
		Filename:    filename,
		Path:        path,
		URL:         FileURL(path),
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   now,
	}

	if g.mode == attachment.BackendRemote {
		desc.Backend = attachment.BackendRemote
		err := g.remote.Put(ctx, desc, data)
		if err == nil {
			return desc, nil
		}
		log.Printf("[storage] remote upload failed for %s, falling back to local: %v", path, err)
	}

	desc.Backend = attachment.BackendLocal
	if err := g.local.Put(ctx, desc, data); err != nil {
		return attachment.Descriptor{}, fmt.Errorf("store %s: %w", path, err)
	}
	return desc, nil
}

// Download returns the bytes stored at path or ErrNotFound.
func (g *Gateway) Download(ctx context.Context, path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	var remoteErr error
	if g.mode == attachment.BackendRemote {
		data, err := g.remote.Get(ctx, path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[storage] remote download failed for %s: %v", path, err)
			remoteErr = err
		}
	}

	data, err := g.local.Get(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		// a remote outage must not look like a missing file
		if remoteErr != nil {
			return nil, fmt.Errorf("download %s: %w", path, remoteErr)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

// Delete removes path. It returns false when nothing was stored there.
func (g *Gateway) Delete(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}

	removed := false
	if g.mode == attachment.BackendRemote {
		ok, err := g.remote.Delete(ctx, path)
		if err != nil {
			return false, fmt.Errorf("delete %s: %w", path, err)
		}
		removed = ok
	}

	ok, err := g.local.Delete(ctx, path)
	if err != nil {
		return removed, fmt.Errorf("delete %s: %w", path, err)
	}
	return removed || ok, nil
}

// List returns owner's uploads, newest first.
func (g *Gateway) List(ctx context.Context, owner string) ([]attachment.Descriptor, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	out := []attachment.Descriptor{}
	if g.mode == attachment.BackendRemote {
		files, err := g.remote.List(ctx, owner)
		if err != nil {
			log.Printf("[storage] remote list failed for %s: %v", owner, err)
		}
		out = append(out, files...)
	}

	files, err := g.local.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", owner, err)
	}
	out = append(out, files...)

	for i := range out {
		if out[i].URL == "" {
			out[i].URL = FileURL(out[i].Path)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
