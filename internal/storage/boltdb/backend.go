// Package boltdb stores each chat as its own record in a bbolt bucket keyed
// by chat id.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/modechat/backend/internal/service/chat"
)

var chatsBucket = []byte("chats")

// Backend persists chats in a bbolt database. Every Save is one bbolt
// transaction, which commits atomically.
type Backend struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chatsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Backend{db: db}, nil
}

// Load decodes every record. One undecodable record fails the whole load.
func (b *Backend) Load(_ context.Context) (map[string]chat.Chat, error) {
	out := map[string]chat.Chat{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(chatsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var c *chat.Chat
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("%w: chat %s: %v", chatService.ErrCorruptStorage, k, err)
			}
			if c == nil {
				return fmt.Errorf("%w: chat %s is null", chatService.ErrCorruptStorage, k)
			}
			for i, m := range c.Messages {
				if !m.Role.Valid() {
					return fmt.Errorf("%w: chat %s message %d has role %q", chatService.ErrCorruptStorage, k, i, m.Role)
				}
			}
			out[string(k)] = *c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes only the changed record; other chats are left untouched.
func (b *Backend) Save(_ context.Context, all map[string]chat.Chat, changed string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(chatsBucket)
		if err != nil {
			return err
		}

		c, ok := all[changed]
		if !ok {
			return bucket.Delete([]byte(changed))
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode chat %s: %w", changed, err)
		}
		return bucket.Put([]byte(changed), data)
	})
}

// Close closes the database file.
func (b *Backend) Close() error {
	return b.db.Close()
}
