package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/celltrack/internal/config"
)

func configFor(driver, root string) config.BlobConfig {
	return config.BlobConfig{Driver: driver, FSRoot: root}
}

func TestAttachmentKey(t *testing.T) {
	key := AttachmentKey("ZnBr_001", "/tmp/Start Photo.JPG")
	assert.True(t, strings.HasPrefix(key, "cells/ZnBr_001/"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)
	assert.NotEqual(t, key, AttachmentKey("ZnBr_001", "/tmp/Start Photo.JPG"), "keys are unique")
}

func TestSaveAttachment(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	key, err := SaveAttachment(ctx, s, "S-01", "cycle3.json", strings.NewReader(`{"v":1.2}`))
	require.NoError(t, err)

	data, info, err := ReadAll(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1.2}`, string(data))
	assert.Equal(t, "cycle3.json", info.Metadata["filename"])
	assert.Equal(t, "application/json", info.ContentType)
}

func TestSaveAttachmentTooLarge(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := SaveAttachment(ctx, s, "S-01", "huge.bin", bytes.NewReader(make([]byte, MaxAttachmentSize+1)))
	assert.Error(t, err)

	left, err := s.List(ctx, CellPrefix("S-01"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSaveFileAndDeleteCell(t *testing.T) {
	ctx := context.Background()
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	k1, err := SaveFile(ctx, s, "S-01", src)
	require.NoError(t, err)
	_, err = SaveFile(ctx, s, "S-01", src)
	require.NoError(t, err)
	other, err := SaveFile(ctx, s, "S-010", src)
	require.NoError(t, err)

	info, err := s.Head(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)

	removed, err := DeleteCell(ctx, s, "S-01")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Head(ctx, other)
	assert.NoError(t, err, "prefix must not match a longer cell ID")

	_, err = SaveFile(ctx, s, "S-01", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
