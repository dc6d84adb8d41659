package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/postsync/internal/migrations"
	"github.com/jdholdren/postsync/internal/postsync"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()

	dbx, err := Open(filepath.Join(t.TempDir(), "postsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	dbx.SetMaxOpenConns(1)

	require.NoError(t, migrations.Run(dbx))
	return New(dbx)
}

func testRecord(externalID string, ts time.Time) postsync.PostRecord {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return postsync.PostRecord{
		ExternalID:      externalID,
		Payload:         `{"id":"` + externalID + `"}`,
		MediaID:         externalID,
		Sizes:           []int{150, 320},
		AspectRatio:     1.5,
		MediaProcessed:  true,
		CreatedOn:       now,
		LastRequested:   now,
		SourceTimestamp: ts,
	}
}

func TestInsertPost(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	ts := time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)
	stored, created, err := repo.InsertPost(ctx, testRecord("123_456", ts))
	require.NoError(t, err)
	assert.True(t, created)

	id, ok := stored.ID.Get()
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(id, postNamespace))
	assert.Equal(t, "123_456", stored.ExternalID)
	assert.Equal(t, []int{150, 320}, stored.Sizes)
	assert.Equal(t, 1.5, stored.AspectRatio)
	assert.True(t, stored.MediaProcessed)
	assert.True(t, ts.Equal(stored.SourceTimestamp))

	byExternal, err := repo.PostByExternalID(ctx, "123_456")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, byExternal.ID)
}

func TestInsertPost_ExistingExternalID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, created, err := repo.InsertPost(ctx, testRecord("123_456", time.Now().UTC()))
	require.NoError(t, err)
	require.True(t, created)

	second := testRecord("123_456", time.Now().UTC())
	second.MediaID = "other"
	got, created, err := repo.InsertPost(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "123_456", got.MediaID)
}

func TestInsertPost_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, c, err := repo.InsertPost(ctx, testRecord("dup", time.Now().UTC()))
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if c {
				created++
			}
			ids[rec.ID.String()] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestPost_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.Post(ctx, "nope")
	assert.ErrorIs(t, err, postsync.ErrNotFound)
	_, err = repo.PostByExternalID(ctx, "nope")
	assert.ErrorIs(t, err, postsync.ErrNotFound)
}

func TestUpdatePost(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	stored, _, err := repo.InsertPost(ctx, testRecord("123_456", time.Now().UTC()))
	require.NoError(t, err)
	id := stored.ID.String()

	requested := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	mediaID := postsync.FailureSentinel
	ratio := 1.0
	require.NoError(t, repo.UpdatePost(ctx, id, postsync.PostUpdate{
		MediaID:       &mediaID,
		AspectRatio:   &ratio,
		Sizes:         []int{640},
		LastRequested: requested,
	}))

	got, err := repo.Post(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, postsync.FailureSentinel, got.MediaID)
	assert.Equal(t, 1.0, got.AspectRatio)
	assert.Equal(t, []int{640}, got.Sizes)
	assert.True(t, requested.Equal(got.LastRequested))
	// Untouched fields keep their values.
	assert.Equal(t, stored.Payload, got.Payload)
	assert.True(t, got.MediaProcessed)

	// Nothing set is a no-op.
	require.NoError(t, repo.UpdatePost(ctx, id, postsync.PostUpdate{}))

	err = repo.UpdatePost(ctx, "nope", postsync.PostUpdate{LastRequested: requested})
	assert.ErrorIs(t, err, postsync.ErrNotFound)
}

func TestLegacyRow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	// Rows saved before resizing hold the column defaults.
	_, err := repo.db.ExecContext(ctx, `INSERT INTO posts (id, external_post_id, payload) VALUES ('legacy-pst', 'legacy', '{"id":"legacy"}');`)
	require.NoError(t, err)

	got, err := repo.PostByExternalID(ctx, "legacy")
	require.NoError(t, err)
	assert.Nil(t, got.Sizes)
	assert.Equal(t, 1.0, got.AspectRatio)
	assert.False(t, got.MediaProcessed)
	assert.Equal(t, postsync.MediaNeverAttempted, got.MediaState())
	assert.False(t, got.CreatedOn.IsZero())
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		rec, _, err := repo.InsertPost(ctx, testRecord(fmt.Sprintf("post-%d", i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		ids = append(ids, rec.ID.String())
	}

	exists, err := repo.LinkExists(ctx, ids[0], "feed-a")
	require.NoError(t, err)
	assert.False(t, exists)

	for _, id := range ids {
		require.NoError(t, repo.InsertLink(ctx, id, "feed-a"))
	}
	require.NoError(t, repo.InsertLink(ctx, ids[0], "feed-b"))
	// Relinking is a no-op.
	require.NoError(t, repo.InsertLink(ctx, ids[0], "feed-a"))

	exists, err = repo.LinkExists(ctx, ids[0], "feed-a")
	require.NoError(t, err)
	assert.True(t, exists)

	posts, err := repo.FeedPosts(ctx, "feed-a", 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"post-2", "post-1", "post-0"}, []string{posts[0].ExternalID, posts[1].ExternalID, posts[2].ExternalID})

	posts, err = repo.FeedPosts(ctx, "feed-a", 2)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	posts, err = repo.FeedPosts(ctx, "feed-b", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "post-0", posts[0].ExternalID)

	posts, err = repo.FeedPosts(ctx, "feed-c", 10)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestInsertLink_UnknownPost(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.InsertLink(context.Background(), "missing-pst", "feed-a")
	assert.Error(t, err)
}
