package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/mute"
	"github.com/optiplay/backend/internal/ratelimit"
)

// toxicScanner returns a scanner backed by a fake classifier that scores
// every text at score.
func toxicScanner(t *testing.T, score float64) *moderation.Scanner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"attributeScores":{"TOXICITY":{"summaryScore":{"value":%v}}}}`, score)
	}))
	t.Cleanup(srv.Close)
	return moderation.NewScanner(moderation.ScannerConfig{APIKey: "k", Endpoint: srv.URL, QPS: 1000})
}

func newPostService(db *gorm.DB, scanner *moderation.Scanner) (*PostService, *MuteService) {
	if scanner == nil {
		scanner = moderation.NewScanner(moderation.ScannerConfig{})
	}
	mutes := NewMuteService(db, nil)
	return NewPostService(db, moderation.NewPolicy(), scanner, ratelimit.NewLimiter(nil), mutes, NewSecurityService(db), nil), mutes
}

func TestPostService_CreatePost(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "writer", models.RoleUser)

	post, err := svc.CreatePost(context.Background(), user.ID, PostInput{
		Title: "  Build guide ",
		Body:  "Check my http://example.com link",
	})
	require.NoError(t, err)
	assert.Equal(t, "Build guide", post.Title)
	assert.Equal(t, "Check my http[:]//example.com link", post.Body)
	assert.Equal(t, string(moderation.SourceHeuristic), post.ModerationSource)
	assert.False(t, post.Overridden)

	got, err := svc.GetPost(post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.Body, got.Body)
	require.NotNil(t, got.Author)
	assert.Equal(t, "writer", got.Author.Username)
}

func TestPostService_AllowLinksOnlyForStaff(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "writer", models.RoleUser)
	mod := createUser(t, db, "mod", models.RoleModerator)

	in := PostInput{Title: "Patch notes", Body: "see https://optiplay.gg/patch", AllowLinks: true}

	p, err := svc.CreatePost(context.Background(), user.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "see https[:]//optiplay.gg/patch", p.Body)

	p, err = svc.CreatePost(context.Background(), mod.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "see https://optiplay.gg/patch", p.Body)
}

func TestPostService_PolicyRejections(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "writer", models.RoleUser)

	_, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: "R3T4RD", Body: "hi"})
	assert.ErrorIs(t, err, moderation.ErrBlockedLanguage)

	_, err = svc.CreatePost(context.Background(), user.ID, PostInput{Title: "market", Body: "visit abcdefghijklmnop.onion"})
	assert.ErrorIs(t, err, moderation.ErrBlockedLink)

	var count int64
	db.Model(&models.Post{}).Count(&count)
	assert.Zero(t, count)
}

func TestPostService_MutedUserBlocked(t *testing.T) {
	db := setupTestDB(t)
	svc, mutes := newPostService(db, nil)
	user := createUser(t, db, "loud", models.RoleUser)

	_, err := mutes.Mute(user.ID, mute.Request{Reason: "spam"})
	require.NoError(t, err)

	_, err = svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, ErrUserMuted)
}

func TestPostService_RateLimited(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "fast", models.RoleUser)

	for i := 0; i < ratelimit.RulePost.Limit; i++ {
		_, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "b"})
		require.NoError(t, err)
	}
	_, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "b"})
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, ratelimit.RulePost, rl.Rule)
	assert.False(t, rl.Result.Success)
}

func TestPostService_FlaggedAndOverride(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, toxicScanner(t, 0.95))
	user := createUser(t, db, "angry", models.RoleUser)
	mod := createUser(t, db, "mod", models.RoleModerator)

	_, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "you are all terrible"})
	var flagged *FlaggedError
	require.True(t, errors.As(err, &flagged))
	assert.True(t, flagged.Verdict.Flagged)
	assert.Equal(t, moderation.SourcePerspective, flagged.Verdict.Source)

	_, err = svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "you are all terrible", Override: true})
	assert.ErrorIs(t, err, ErrOverrideForbidden)

	post, err := svc.CreatePost(context.Background(), mod.ID, PostInput{Title: "quote", Body: "you are all terrible", Override: true})
	require.NoError(t, err)
	assert.True(t, post.Overridden)
	assert.InDelta(t, 0.95, post.ToxicityScore, 1e-9)

	audits, err := NewSecurityService(db).ListAudits(10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "override_flagged_post", audits[0].Action)
	assert.Equal(t, mod.Email, audits[0].Actor)
}

func TestPostService_Comments(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "writer", models.RoleUser)

	_, err := svc.CreateComment(context.Background(), user.ID, 404, CommentInput{Body: "hello"})
	assert.ErrorIs(t, err, ErrPostNotFound)

	post, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: "t", Body: "b"})
	require.NoError(t, err)

	first, err := svc.CreateComment(context.Background(), user.ID, post.ID, CommentInput{Body: "first http://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "first http[:]//a.example", first.Body)
	_, err = svc.CreateComment(context.Background(), user.ID, post.ID, CommentInput{Body: "second"})
	require.NoError(t, err)

	got, err := svc.GetPost(post.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, first.ID, got.Comments[0].ID)
	require.NotNil(t, got.Comments[0].Author)

	_, err = svc.GetPost(9999)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestPostService_ListAndPreview(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newPostService(db, nil)
	user := createUser(t, db, "writer", models.RoleUser)

	for i := 0; i < 3; i++ {
		_, err := svc.CreatePost(context.Background(), user.ID, PostInput{Title: fmt.Sprintf("post %d", i), Body: "b"})
		require.NoError(t, err)
	}
	posts, err := svc.ListPosts(2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "post 2", posts[0].Title)

	v, err := svc.Preview(context.Background(), user.ID, "", "wow!!!")
	require.NoError(t, err)
	assert.Equal(t, moderation.SourceHeuristic, v.Source)
	assert.InDelta(t, 0.2, v.Score, 1e-9)
}
