package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrBlobExists is returned when a write targets an existing path whose
// content differs and overwriting is not permitted.
var ErrBlobExists = errors.New("blob already exists with different content")

// ErrUnsafePath is returned for paths escaping the storage root.
var ErrUnsafePath = errors.New("unsafe blob path")

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	Mime   string `json:"mime"`
}

// BlobStore persists document blobs on disk under a base directory. Writes
// are atomic: content is streamed to a temporary sibling, fsynced and then
// renamed into place.
type BlobStore struct {
	baseDir string
}

// NewBlobStore ensures the base directory exists and returns a handle.
func NewBlobStore(baseDir string) (*BlobStore, error) {
	if baseDir == "" {
		baseDir = "./media"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// Save writes the reader content to relPath. When the target already holds
// byte-identical content the call succeeds idempotently. When it holds
// different content the behaviour depends on allowSuffix: refuse with
// ErrBlobExists, or retry with numeric suffixes (other-document policy).
func (s *BlobStore) Save(relPath string, r io.Reader, allowSuffix bool) (*BlobInfo, error) {
	target, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload stream: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	finalRel := relPath
	if existing, statErr := os.Stat(target); statErr == nil && !existing.IsDir() {
		same, cmpErr := s.contentEquals(target, digest)
		if cmpErr != nil {
			return nil, cmpErr
		}
		if same {
			return s.describe(finalRel, data, digest)
		}
		if !allowSuffix {
			return nil, ErrBlobExists
		}
		finalRel, target, err = s.nextFreePath(relPath)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("prepare blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return nil, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return nil, fmt.Errorf("chmod blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	return s.describe(finalRel, data, digest)
}

// Open returns a read handle plus size and sniffed mime for the blob.
func (s *BlobStore) Open(relPath string) (*os.File, *BlobInfo, error) {
	target, err := s.resolve(relPath)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}
	header := make([]byte, 512)
	n, _ := file.Read(header)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("rewind blob: %w", err)
	}
	return file, &BlobInfo{
		Path: relPath,
		Size: info.Size(),
		Mime: http.DetectContentType(header[:n]),
	}, nil
}

// Stat reports on-disk size and SHA-256 for integrity checks.
func (s *BlobStore) Stat(relPath string) (int64, string, error) {
	target, err := s.resolve(relPath)
	if err != nil {
		return 0, "", err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", ErrBlobNotFound
		}
		return 0, "", fmt.Errorf("open blob: %w", err)
	}
	defer file.Close() //nolint:errcheck
	h := sha256.New()
	size, err := io.Copy(h, file)
	if err != nil {
		return 0, "", fmt.Errorf("hash blob: %w", err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// Delete removes a blob, ignoring already-missing targets.
func (s *BlobStore) Delete(relPath string) error {
	target, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// BaseDir exposes the storage root (useful for diagnostics).
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

func (s *BlobStore) describe(relPath string, data []byte, digest string) (*BlobInfo, error) {
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	return &BlobInfo{
		Path:   relPath,
		Size:   int64(len(data)),
		SHA256: digest,
		Mime:   http.DetectContentType(sniff),
	}, nil
}

func (s *BlobStore) contentEquals(target, digest string) (bool, error) {
	file, err := os.Open(target)
	if err != nil {
		return false, fmt.Errorf("open existing blob: %w", err)
	}
	defer file.Close() //nolint:errcheck
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return false, fmt.Errorf("hash existing blob: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)) == digest, nil
}

func (s *BlobStore) nextFreePath(relPath string) (string, string, error) {
	ext := filepath.Ext(relPath)
	stem := strings.TrimSuffix(relPath, ext)
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		target, err := s.resolve(candidate)
		if err != nil {
			return "", "", err
		}
		if _, statErr := os.Stat(target); os.IsNotExist(statErr) {
			return candidate, target, nil
		}
	}
	return "", "", fmt.Errorf("no free path variant for %s", relPath)
}

// resolve maps a relative blob path onto the base directory, refusing
// absolute paths and parent traversal.
func (s *BlobStore) resolve(relPath string) (string, error) {
	if relPath == "" || strings.HasPrefix(relPath, "/") || filepath.IsAbs(relPath) {
		return "", ErrUnsafePath
	}
	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || strings.Contains(relPath, "..") {
		return "", ErrUnsafePath
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

// Hash computes the SHA-256 of a stream without persisting it, returning the
// digest, byte count and the buffered content for a subsequent Save.
func Hash(r io.Reader) (string, int64, *bytes.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, nil, fmt.Errorf("read stream: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), bytes.NewReader(data), nil
}
