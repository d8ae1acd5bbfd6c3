package inventory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the conventional inventory file written into the extraction
// destination.
const FileName = "inventory.yaml"

// Inventory describes the files extracted from one result archive.
type Inventory struct {
	Version   string     `yaml:"version"`
	CreatedAt time.Time  `yaml:"created_at"`
	BatchID   string     `yaml:"batch_id,omitempty"`
	Artifacts []Artifact `yaml:"artifacts"`
}

// Artifact describes a single extracted file, with its content hash for
// later integrity checks.
type Artifact struct {
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// Collect hashes the given files and returns artifact records with paths
// relative to root, sorted by path.
func Collect(ctx context.Context, root string, files []string) ([]Artifact, error) {
	if root == "" {
		return nil, errors.New("root directory is required")
	}

	var artifacts []Artifact
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", path, err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("hash %q: %w", path, err)
		}

		artifacts = append(artifacts, Artifact{
			Path:   rel,
			Kind:   inferKind(rel),
			Size:   size,
			SHA256: hex.EncodeToString(hash.Sum(nil)),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Path < artifacts[j].Path
	})
	return artifacts, nil
}

// Write marshals the inventory and writes it under dir.
func Write(dir string, inv Inventory) (string, error) {
	if inv.Version == "" {
		inv.Version = "1"
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	data, err := yaml.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("marshal inventory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write inventory: %w", err)
	}
	return path, nil
}

// Read loads an inventory file, for consumers verifying earlier extractions.
func Read(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal inventory: %w", err)
	}
	if inv.Version != "1" {
		return nil, fmt.Errorf("unsupported inventory version %q", inv.Version)
	}
	return &inv, nil
}

func inferKind(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return "csv"
	case strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") || strings.HasSuffix(lower, ".xlsm"):
		return "spreadsheet"
	case strings.HasSuffix(lower, ".ods"):
		return "spreadsheet"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".log"):
		return "text"
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	default:
		return "file"
	}
}
