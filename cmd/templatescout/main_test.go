package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	assert.Equal(t, "(memory)", redact(""))
	assert.Equal(t, "postgres://***@db:5432/scout", redact("postgres://scout:hunter2@db:5432/scout"))
	assert.Equal(t, "mongodb://***@mongo", redact("mongodb://root:pw@mongo"))
	assert.Equal(t, "host=db user=scout", redact("host=db user=scout"))
}

func TestReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example.com/html/one\n\n# note\nhttps://a.example.com/html/two\n"), 0o644))

	lines, err := readLines(path)
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = readLines(empty)
	assert.Error(t, err)

	_, err = readLines(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
