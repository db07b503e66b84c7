package post

import (
	"context"

	"github.com/google/uuid"

	"okuri/internal/cache"
	"okuri/internal/domain"
	"okuri/internal/repository"
)

type toggleState int

const (
	toggleIdle toggleState = iota
	toggleApplied
	toggleConfirmed
	toggleRolledBack
)

// likeToggle runs a single like mutation optimistically: the cached post is
// patched before the database round trip and restored from a snapshot if the
// round trip fails. One value per mutation; never reused.
type likeToggle struct {
	store cache.Store
	posts repository.PostRepository

	state    toggleState
	key      cache.Key
	snapshot *domain.Post
}

func newLikeToggle(store cache.Store, posts repository.PostRepository) *likeToggle {
	return &likeToggle{store: store, posts: posts, state: toggleIdle}
}

func (t *likeToggle) Do(ctx context.Context, postID int64, familyID, userID uuid.UUID) (bool, error) {
	t.key = cache.PostByID(userID, postID)

	// A read already in flight for this entry could complete after the
	// optimistic write and clobber it with stale data. Cancel it first.
	// Feed fills write the same entity entries and register under the
	// family's list prefix, so that registration is canceled too.
	t.store.CancelReads(t.key)
	t.store.CancelReads(cache.PostListPrefix(familyID))

	var snap domain.Post
	if ok, err := t.store.Get(ctx, t.key, &snap); err == nil && ok {
		t.snapshot = &snap

		patched := snap
		patched.IsLiked = !snap.IsLiked
		if patched.IsLiked {
			patched.LikeCount = snap.LikeCount + 1
		} else {
			patched.LikeCount = snap.LikeCount - 1
		}
		if err := t.store.Set(ctx, t.key, &patched); err == nil {
			t.state = toggleApplied
		}
	}

	liked, err := t.posts.ToggleLike(ctx, postID, userID)
	if err != nil {
		// Rollback is unconditional and precedes the error going up.
		t.rollback(ctx)
		return false, err
	}

	t.confirm(ctx, liked)
	return liked, nil
}

// confirm reconciles the cache with the server verdict. Under a single
// client the verdict always matches the optimistic guess, but it is the
// server's answer that stands when they differ.
func (t *likeToggle) confirm(ctx context.Context, liked bool) {
	if t.state == toggleApplied && t.snapshot != nil {
		reconciled := *t.snapshot
		reconciled.IsLiked = liked
		switch {
		case liked && !t.snapshot.IsLiked:
			reconciled.LikeCount = t.snapshot.LikeCount + 1
		case !liked && t.snapshot.IsLiked:
			reconciled.LikeCount = t.snapshot.LikeCount - 1
		}
		_ = t.store.Set(ctx, t.key, &reconciled)
	}
	t.state = toggleConfirmed
}

func (t *likeToggle) rollback(ctx context.Context) {
	if t.state == toggleApplied && t.snapshot != nil {
		_ = t.store.Set(ctx, t.key, t.snapshot)
	}
	t.state = toggleRolledBack
}
