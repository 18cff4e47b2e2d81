// Package schemaguard validates the integrity of an "active schema"
// directory at connect time: required metadata fields present, and every
// file's digest matching a manifest. It does not consume the schemas, and
// no other package reads them from this directory; this only guards
// against a schema tree that is missing, truncated, or tampered with.
package schemaguard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Metadata is the required shape of the active schema directory's
// metadata JSON file.
type Metadata struct {
	SchemaName      string `json:"schemaName"`
	GeneratedAtUTC  string `json:"generatedAtUtc"`
	GeneratorCmd    string `json:"generatorCommand"`
	SourceOfTruth   string `json:"sourceOfTruthPath"`
}

func (m Metadata) validate() error {
	var missing []string
	if m.SchemaName == "" {
		missing = append(missing, "schemaName")
	}
	if m.GeneratedAtUTC == "" {
		missing = append(missing, "generatedAtUtc")
	}
	if m.GeneratorCmd == "" {
		missing = append(missing, "generatorCommand")
	}
	if m.SourceOfTruth == "" {
		missing = append(missing, "sourceOfTruthPath")
	}
	if len(missing) > 0 {
		return errors.Newf("schema metadata missing required field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// manifestEntry is one line of manifest.sha256: "<digest>  ./<relpath>".
type manifestEntry struct {
	digest  string
	relPath string
}

func parseManifest(data []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Newf("manifest.sha256 line %d malformed: %q", i+1, line)
		}
		rel := strings.TrimPrefix(fields[1], "./")
		entries = append(entries, manifestEntry{digest: fields[0], relPath: rel})
	}
	return entries, nil
}

// Result reports what the guard found, for logging/observability.
type Result struct {
	Metadata    Metadata
	FilesOK     int
}

// Verify reads metadata.json and manifest.sha256 from dir, and checks
// every file named in the manifest under dir/json-schema against its
// recorded sha256 digest. Returns an error describing the first class of
// failure encountered: missing metadata fields, a manifest/on-disk set
// mismatch, or a digest mismatch.
func Verify(dir string) (Result, error) {
	metaRaw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Result{}, errors.Wrap(err, "schemaguard: reading metadata.json")
	}
	var meta Metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return Result{}, errors.Wrap(err, "schemaguard: parsing metadata.json")
	}
	if err := meta.validate(); err != nil {
		return Result{}, err
	}

	manifestRaw, err := os.ReadFile(filepath.Join(dir, "manifest.sha256"))
	if err != nil {
		return Result{}, errors.Wrap(err, "schemaguard: reading manifest.sha256")
	}
	entries, err := parseManifest(manifestRaw)
	if err != nil {
		return Result{}, err
	}

	schemaDir := filepath.Join(dir, "json-schema")
	onDisk, err := listRelFiles(schemaDir)
	if err != nil {
		return Result{}, errors.Wrap(err, "schemaguard: listing json-schema directory")
	}

	manifestSet := make(map[string]string, len(entries))
	for _, e := range entries {
		manifestSet[e.relPath] = e.digest
	}
	if err := compareFileSets(manifestSet, onDisk); err != nil {
		return Result{}, err
	}

	for rel, wantDigest := range manifestSet {
		got, err := digestFile(filepath.Join(schemaDir, rel))
		if err != nil {
			return Result{}, errors.Wrapf(err, "schemaguard: digesting %s", rel)
		}
		if got != wantDigest {
			return Result{}, errors.Newf("schemaguard: digest mismatch for %s: manifest=%s actual=%s", rel, wantDigest, got)
		}
	}

	return Result{Metadata: meta, FilesOK: len(manifestSet)}, nil
}

func listRelFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func compareFileSets(manifest map[string]string, onDisk []string) error {
	onDiskSet := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		onDiskSet[f] = true
	}
	var onlyInManifest, onlyOnDisk []string
	for rel := range manifest {
		if !onDiskSet[rel] {
			onlyInManifest = append(onlyInManifest, rel)
		}
	}
	for _, f := range onDisk {
		if _, ok := manifest[f]; !ok {
			onlyOnDisk = append(onlyOnDisk, f)
		}
	}
	if len(onlyInManifest) > 0 || len(onlyOnDisk) > 0 {
		return errors.Newf("schemaguard: manifest/on-disk mismatch; only in manifest: %v, only on disk: %v", onlyInManifest, onlyOnDisk)
	}
	return nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
