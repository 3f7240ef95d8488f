// Package jsonfile keeps every chat in one JSON document that is rewritten
// wholesale on each mutation.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/modechat/backend/internal/service/chat"
)

// Backend stores the mapping at path as {id: {title, messages: [...]}}.
type Backend struct {
	path string
}

// New returns a backend rooted at path. The file is created on first write.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the location of the JSON document.
func (b *Backend) Path() string {
	return b.path
}

// Load reads the document. A missing file is an empty store; a null
// document or a null record is corrupt.
func (b *Backend) Load(_ context.Context) (map[string]chat.Chat, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]chat.Chat{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", chatService.ErrCorruptStorage, b.path)
	}

	var records map[string]*chat.Chat
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", chatService.ErrCorruptStorage, b.path, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: %s holds a null document", chatService.ErrCorruptStorage, b.path)
	}

	out := make(map[string]chat.Chat, len(records))
	for id, c := range records {
		if id == "" {
			return nil, fmt.Errorf("%w: %s: empty chat id", chatService.ErrCorruptStorage, b.path)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s: chat %s is null", chatService.ErrCorruptStorage, b.path, id)
		}
		for i, m := range c.Messages {
			if !m.Role.Valid() {
				return nil, fmt.Errorf("%w: %s: chat %s message %d has role %q", chatService.ErrCorruptStorage, b.path, id, i, m.Role)
			}
		}
		out[id] = *c
	}
	return out, nil
}

// Save rewrites the whole document atomically: renameio writes and syncs a
// temp file in the same directory and renames it over the old one, then the
// directory is synced so the rename itself survives a crash.
func (b *Backend) Save(_ context.Context, all map[string]chat.Chat, _ string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if err := renameio.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", b.path, err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}

// Close is a no-op; the file is only open during Save.
func (b *Backend) Close() error {
	return nil
}
