package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxAttachmentSize caps a single photo or data file
const MaxAttachmentSize = 32 << 20

// CellPrefix returns the key prefix holding all blobs of a cell
func CellPrefix(cellID string) string {
	return path.Join("cells", cellID) + "/"
}

// AttachmentKey builds a fresh key cells/<cell_id>/<uuid><ext>
func AttachmentKey(cellID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return CellPrefix(cellID) + uuid.NewString() + ext
}

// SaveAttachment uploads r under a new key for the cell and returns the key
func SaveAttachment(ctx context.Context, store Store, cellID, fileName string, r io.Reader) (string, error) {
	key := AttachmentKey(cellID, fileName)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	limited := io.LimitReader(r, MaxAttachmentSize+1)
	info, err := store.Put(ctx, key, limited, PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"filename": filepath.Base(fileName), "cell_id": cellID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", fileName, err)
	}
	if info.Size > MaxAttachmentSize {
		_, _ = store.Delete(ctx, key)
		return "", fmt.Errorf("%s is larger than %d MiB", fileName, MaxAttachmentSize>>20)
	}
	return key, nil
}

// SaveFile uploads a local file as an attachment of the cell
func SaveFile(ctx context.Context, store Store, cellID, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()
	return SaveAttachment(ctx, store, cellID, filePath, f)
}

// ReadAll returns the full contents of a blob
func ReadAll(ctx context.Context, store Store, key string) ([]byte, Info, error) {
	info, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, Info{}, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, MaxAttachmentSize)); err != nil {
		return nil, Info{}, err
	}
	return buf.Bytes(), info, nil
}

// DeleteCell removes every blob stored for a cell and returns how many were removed
func DeleteCell(ctx context.Context, store Store, cellID string) (int, error) {
	infos, err := store.List(ctx, CellPrefix(cellID))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		ok, err := store.Delete(ctx, info.Key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
