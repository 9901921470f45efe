// Package storage keeps image blobs on disk addressed by their SHA-256, so an
// image uploaded under several object paths is stored once.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ContentAddressedStorage stores blobs at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
type ContentAddressedStorage struct {
	baseDir string
}

// NewContentAddressedStorage creates the storage rooted at baseDir.
func NewContentAddressedStorage(baseDir string) *ContentAddressedStorage {
	return &ContentAddressedStorage{baseDir: baseDir}
}

// CalculateHash returns the hex SHA-256 of data.
func CalculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store writes data if it is not already present and returns its hash.
func (s *ContentAddressedStorage) Store(data []byte) (string, error) {
	hash := CalculateHash(data)
	dest := s.getPath(hash)
	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a sibling temp file first so a crash never leaves a
	// truncated blob under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(dest), hash+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

// Retrieve reads a blob and verifies it still matches its hash.
func (s *ContentAddressedStorage) Retrieve(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}
	data, err := os.ReadFile(s.getPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if got := CalculateHash(data); got != hash {
		return nil, fmt.Errorf("hash mismatch: expected %s, got %s", hash, got)
	}
	return data, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *ContentAddressedStorage) Delete(hash string) error {
	if !validHash(hash) {
		return fmt.Errorf("invalid content hash %q", hash)
	}
	path := s.getPath(hash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	// Drop the fan-out directories once they are empty.
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))
	return nil
}

// Exists reports whether a blob is stored.
func (s *ContentAddressedStorage) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.getPath(hash))
	return err == nil
}

// Size returns the stored size of a blob in bytes.
func (s *ContentAddressedStorage) Size(hash string) (int64, error) {
	if !validHash(hash) {
		return 0, fmt.Errorf("invalid content hash %q", hash)
	}
	info, err := os.Stat(s.getPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content not found: %w", err)
		}
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}

func (s *ContentAddressedStorage) getPath(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
