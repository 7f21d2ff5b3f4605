// Package resources is the content-addressable store for uploaded WASM
// modules and other game assets: a SHA-256 digest accompanies every stored
// blob, and resources are filed under a per-tenant directory so one
// tenant's listing or lookup can never cross into another's files.
package resources

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/jsonx"
)

// Type classifies the kind of artifact a resource holds.
type Type string

const (
	TypeWasmModule    Type = "wasm_module"
	TypeGameAsset     Type = "game_asset"
	TypeConfiguration Type = "configuration"
)

// Metadata describes a stored resource; it is persisted alongside the
// resource's data as a sidecar JSON file.
type Metadata struct {
	ID          id.ResourceID `json:"id"`
	TenantID    id.TenantID   `json:"tenant_id"`
	Name        string        `json:"name"`
	Type        Type          `json:"resource_type"`
	SizeBytes   int64         `json:"size_bytes"`
	ContentHash string        `json:"content_hash"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Store persists resources under base, laid out as
// base/<tenant-id>/<resource-id>.data and base/<tenant-id>/<resource-id>.meta.
type Store struct {
	base string
	now  func() time.Time
}

// New constructs a Store rooted at base. base is created on first write; it
// is not required to exist yet.
func New(base string) *Store {
	return &Store{base: base, now: time.Now}
}

func (s *Store) tenantDir(tenant id.TenantID) string {
	return filepath.Join(s.base, tenant.String())
}

func (s *Store) dataPath(tenant id.TenantID, resourceID id.ResourceID) string {
	return filepath.Join(s.tenantDir(tenant), resourceID.String()+".data")
}

func (s *Store) metaPath(tenant id.TenantID, resourceID id.ResourceID) string {
	return filepath.Join(s.tenantDir(tenant), resourceID.String()+".meta")
}

// Put streams data to disk while hashing it, then writes the metadata
// sidecar. The returned Metadata's ContentHash is the hex-encoded SHA-256
// digest of the bytes actually written.
func (s *Store) Put(tenant id.TenantID, name string, typ Type, data io.Reader) (Metadata, error) {
	if err := os.MkdirAll(s.tenantDir(tenant), 0o755); err != nil {
		return Metadata{}, errs.Wrap(errs.KindInternal, "failed to create tenant resource directory", err)
	}

	resourceID := id.NewResourceID()
	dataPath := s.dataPath(tenant, resourceID)

	f, err := os.Create(dataPath)
	if err != nil {
		return Metadata{}, errs.Wrap(errs.KindInternal, "failed to create resource data file", err)
	}
	defer f.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), data)
	if err != nil {
		os.Remove(dataPath)
		return Metadata{}, errs.Wrap(errs.KindInternal, "failed to write resource data", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(dataPath)
		return Metadata{}, errs.Wrap(errs.KindInternal, "failed to flush resource data", err)
	}

	meta := Metadata{
		ID:          resourceID,
		TenantID:    tenant,
		Name:        name,
		Type:        typ,
		SizeBytes:   written,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   s.now(),
	}
	if err := s.writeMetadata(tenant, resourceID, meta); err != nil {
		os.Remove(dataPath)
		return Metadata{}, err
	}
	return meta, nil
}

func (s *Store) writeMetadata(tenant id.TenantID, resourceID id.ResourceID, meta Metadata) error {
	encoded, err := jsonx.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindSerialization, "failed to encode resource metadata", err)
	}
	if err := os.WriteFile(s.metaPath(tenant, resourceID), encoded, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, "failed to write resource metadata", err)
	}
	return nil
}

// Get returns a resource's data, scoped to tenant. A resource stored under a
// different tenant is reported as ResourceNotFound, matching the tenant
// isolation policy enforced elsewhere in the platform.
func (s *Store) Get(tenant id.TenantID, resourceID id.ResourceID) ([]byte, error) {
	data, err := os.ReadFile(s.dataPath(tenant, resourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.KindResourceNotFound, "resource %s not found", resourceID)
		}
		return nil, errs.Wrap(errs.KindInternal, "failed to read resource data", err)
	}
	return data, nil
}

// GetMetadata returns a resource's metadata without reading its data.
func (s *Store) GetMetadata(tenant id.TenantID, resourceID id.ResourceID) (Metadata, error) {
	raw, err := os.ReadFile(s.metaPath(tenant, resourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, errs.Newf(errs.KindResourceNotFound, "resource %s not found", resourceID)
		}
		return Metadata{}, errs.Wrap(errs.KindInternal, "failed to read resource metadata", err)
	}
	var meta Metadata
	if err := jsonx.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, errs.Wrap(errs.KindSerialization, "failed to decode resource metadata", err)
	}
	return meta, nil
}

// List returns every resource owned by tenant, newest first. A tenant with
// no resources yet (or no directory at all) gets an empty slice, not an
// error.
func (s *Store) List(tenant id.TenantID) ([]Metadata, error) {
	entries, err := os.ReadDir(s.tenantDir(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, errs.Wrap(errs.KindInternal, "failed to read tenant resource directory", err)
	}

	resources := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".meta" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.tenantDir(tenant), entry.Name()))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := jsonx.Unmarshal(raw, &meta); err != nil {
			continue
		}
		resources = append(resources, meta)
	}

	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.After(resources[j].CreatedAt)
	})
	return resources, nil
}

// Delete removes a resource's data and metadata. It reports whether a
// resource existed to delete.
func (s *Store) Delete(tenant id.TenantID, resourceID id.ResourceID) (bool, error) {
	dataPath := s.dataPath(tenant, resourceID)
	if _, err := os.Stat(dataPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.KindInternal, "failed to stat resource data", err)
	}
	if err := os.Remove(dataPath); err != nil {
		return false, errs.Wrap(errs.KindInternal, "failed to delete resource data", err)
	}
	os.Remove(s.metaPath(tenant, resourceID))
	return true, nil
}

// VerifyContentHash reports whether data's SHA-256 digest matches
// expectedHash (hex-encoded).
func VerifyContentHash(data []byte, expectedHash string) bool {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == expectedHash
}
