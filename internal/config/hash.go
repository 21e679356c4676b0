package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the .checksums file written next to the config.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// IntegrityResult collects the outcome of a config check.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

func checksumPathFor(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".checksums")
}

// Lock computes the config file's hash and writes the .checksums manifest
// next to it.
func Lock(configPath string) (*ChecksumManifest, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest holds expected hashes.
	if err := os.WriteFile(checksumPathFor(absPath), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}

	return manifest, nil
}

// LoadChecksums reads the .checksums manifest for a config file.
func LoadChecksums(configPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(checksumPathFor(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'herald config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyIntegrity checks the config file against its .checksums manifest. A
// missing manifest is a warning; a hash mismatch is a hard failure.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	result := &IntegrityResult{Passed: true}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	manifest, err := LoadChecksums(absPath)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no .checksums manifest for %s; run 'herald config lock' to enable integrity verification", absPath))
		return result, nil
	}

	name := filepath.Base(absPath)
	expectedHash, ok := manifest.Hashes[name]
	if !ok {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s is not in the .checksums manifest; run 'herald config lock'", name))
		return result, nil
	}

	if err := VerifyFileHash(absPath, expectedHash); err != nil {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%v\nIf you edited the config intentionally, run: herald config lock", err))
	}

	return result, nil
}
