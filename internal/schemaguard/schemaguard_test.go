package schemaguard

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeActiveSchema(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "json-schema")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))

	var manifest string
	for rel, content := range files {
		full := filepath.Join(schemaDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		sum := sha256.Sum256([]byte(content))
		manifest += hex.EncodeToString(sum[:]) + "  ./" + rel + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.sha256"), []byte(manifest), 0o644))

	meta := `{"schemaName":"demo","generatedAtUtc":"2026-01-01T00:00:00Z","generatorCommand":"gen","sourceOfTruthPath":"./src"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(meta), 0o644))

	return dir
}

func TestVerifySucceedsOnMatchingManifest(t *testing.T) {
	dir := writeActiveSchema(t, map[string]string{"a.json": `{"a":1}`, "nested/b.json": `{"b":2}`})
	result, err := Verify(dir)
	require.NoError(t, err)
	require.Equal(t, "demo", result.Metadata.SchemaName)
	require.Equal(t, 2, result.FilesOK)
}

func TestVerifyFailsOnMissingMetadataField(t *testing.T) {
	dir := writeActiveSchema(t, map[string]string{"a.json": `{}`})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"schemaName":"demo"}`), 0o644))

	_, err := Verify(dir)
	require.Error(t, err)
}

func TestVerifyFailsOnDigestMismatch(t *testing.T) {
	dir := writeActiveSchema(t, map[string]string{"a.json": `{"a":1}`})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "json-schema", "a.json"), []byte(`{"a":2}`), 0o644))

	_, err := Verify(dir)
	require.Error(t, err)
}

func TestVerifyFailsOnExtraUnmanifestedFile(t *testing.T) {
	dir := writeActiveSchema(t, map[string]string{"a.json": `{"a":1}`})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "json-schema", "b.json"), []byte(`{"b":1}`), 0o644))

	_, err := Verify(dir)
	require.Error(t, err)
}
