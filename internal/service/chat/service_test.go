package chat_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/modechat/backend/internal/service/chat"
	"github.com/zhouzirui/modechat/backend/internal/storage/jsonfile"
)

// flakyBackend records saves and can be told to fail the next one.
type flakyBackend struct {
	mu      sync.Mutex
	saves   int
	failErr error
}

func (b *flakyBackend) Load(context.Context) (map[string]chat.Chat, error) {
	return map[string]chat.Chat{}, nil
}

func (b *flakyBackend) Save(context.Context, map[string]chat.Chat, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		err := b.failErr
		b.failErr = nil
		return err
	}
	b.saves++
	return nil
}

func (b *flakyBackend) Close() error { return nil }

func newJSONService(t *testing.T) (*chatService.Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chats.json")
	svc := chatService.NewService(jsonfile.New(path), nil)
	require.NoError(t, svc.Load(context.Background()))
	return svc, path
}

func TestCreateThenGetIsEmpty(t *testing.T) {
	svc, _ := newJSONService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, "")
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, chat.DefaultTitle, got.Title)
	assert.Empty(t, got.Messages)
}

func TestGetMissingChat(t *testing.T) {
	svc, _ := newJSONService(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, chatService.ErrNotFound)
}

func TestAppendGrowsByOne(t *testing.T) {
	svc, _ := newJSONService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, "notes")
	require.NoError(t, err)

	for i := range 3 {
		msg := chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("message %d", i)}
		require.NoError(t, svc.Append(ctx, id, msg))

		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Messages, i+1)
		assert.Equal(t, msg, got.Messages[len(got.Messages)-1])
	}
}

func TestAppendMissingChat(t *testing.T) {
	svc, _ := newJSONService(t)

	err := svc.Append(context.Background(), "missing", chat.Message{Role: chat.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, chatService.ErrNotFound)
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	svc, _ := newJSONService(t)
	ctx := context.Background()
	id, err := svc.Create(ctx, "x")
	require.NoError(t, err)

	err = svc.Append(ctx, id, chat.Message{Role: "system", Content: "nope"})
	assert.ErrorIs(t, err, chatService.ErrInvalidMessage)
}

func TestFirstTurnReplacesPlaceholderTitle(t *testing.T) {
	svc, _ := newJSONService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, chat.DefaultTitle)
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, id,
		chat.Message{Role: chat.RoleUser, Content: "Explain recursion\nwith examples"},
		chat.Message{Role: chat.RoleAssistant, Content: "Recursion is..."},
	))
	require.NoError(t, svc.Append(ctx, id, chat.Message{Role: chat.RoleUser, Content: "And iteration?"}))

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Explain recursion", got.Title)
}

func TestReloadMatchesLastWrite(t *testing.T) {
	svc, path := newJSONService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "first")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "second", chat.Message{Role: chat.RoleUser, Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, first, chat.Message{Role: chat.RoleAssistant, Content: "hi"}))

	reloaded := chatService.NewService(jsonfile.New(path), nil)
	require.NoError(t, reloaded.Load(ctx))

	for _, id := range []string{first, second} {
		want, err := svc.Get(ctx, id)
		require.NoError(t, err)
		got, err := reloaded.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want.Title, got.Title)
		assert.Equal(t, want.Messages, got.Messages)
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	}
	assert.Equal(t, svc.List(ctx), reloaded.List(ctx))
}

func TestListMostRecentlyUpdatedFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := chatService.NewService(jsonfile.New(filepath.Join(t.TempDir(), "chats.json")), nil,
		chatService.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	require.NoError(t, svc.Load(ctx))

	older, err := svc.Create(ctx, "older")
	require.NoError(t, err)
	newer, err := svc.Create(ctx, "newer")
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, older, chat.Message{Role: chat.RoleUser, Content: "bump"}))

	list := svc.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, older, list[0].ID)
	assert.Equal(t, newer, list[1].ID)
}

func TestDelete(t *testing.T) {
	svc, _ := newJSONService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, id))

	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, chatService.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, id), chatService.ErrNotFound)
}

func TestFailedSaveRollsBack(t *testing.T) {
	backend := &flakyBackend{}
	svc := chatService.NewService(backend, nil)
	ctx := context.Background()
	require.NoError(t, svc.Load(ctx))

	id, err := svc.Create(ctx, "kept")
	require.NoError(t, err)

	backend.failErr = errors.New("disk full")
	err = svc.Append(ctx, id,
		chat.Message{Role: chat.RoleUser, Content: "q"},
		chat.Message{Role: chat.RoleAssistant, Content: "a"},
	)
	require.Error(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Equal(t, "kept", got.Title)

	backend.failErr = errors.New("disk full")
	_, err = svc.Create(ctx, "lost")
	require.Error(t, err)
	assert.Len(t, svc.List(ctx), 1)
}

func TestConcurrentAppendsKeepEveryMessage(t *testing.T) {
	svc, path := newJSONService(t)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		id, err := svc.Create(ctx, fmt.Sprintf("chat %d", i))
		require.NoError(t, err)
		ids[i] = id
	}

	const perChat = 10
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := range perChat {
				msg := chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("%s-%d", id, i)}
				if err := svc.Append(ctx, id, msg); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	reloaded := chatService.NewService(jsonfile.New(path), nil)
	require.NoError(t, reloaded.Load(ctx))
	for _, id := range ids {
		got, err := reloaded.Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Messages, perChat)
		for i, m := range got.Messages {
			assert.Equal(t, fmt.Sprintf("%s-%d", id, i), m.Content)
		}
	}
}
