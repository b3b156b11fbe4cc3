package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/metrics"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/moderation"
	"github.com/optiplay/backend/internal/ratelimit"
	"github.com/optiplay/backend/internal/util"
)

// PostInput is a new thread.
type PostInput struct {
	Title      string
	Body       string
	AllowLinks bool
	Override   bool
}

// CommentInput is a reply.
type CommentInput struct {
	Body     string
	Override bool
}

// PostService runs the write pipeline: rate limit, mute check, content
// policy, toxicity scan, persist.
type PostService struct {
	db       *gorm.DB
	policy   *moderation.Policy
	scanner  *moderation.Scanner
	limiter  *ratelimit.Limiter
	mutes    *MuteService
	security *SecurityService
	notify   *NotificationService
}

func NewPostService(db *gorm.DB, policy *moderation.Policy, scanner *moderation.Scanner, limiter *ratelimit.Limiter,
	mutes *MuteService, security *SecurityService, notify *NotificationService) *PostService {
	return &PostService{
		db:       db,
		policy:   policy,
		scanner:  scanner,
		limiter:  limiter,
		mutes:    mutes,
		security: security,
		notify:   notify,
	}
}

// gate applies the per-user rate limit and the mute check.
func (s *PostService) gate(ctx context.Context, userID uint, rule ratelimit.Rule) (*models.User, error) {
	if res := s.limiter.Allow(ctx, fmt.Sprint(userID), rule); !res.Success {
		return nil, &RateLimitError{Rule: rule, Result: res}
	}
	author, err := s.mutes.EnsureNotMuted(userID)
	if err != nil {
		return nil, err
	}
	if !author.Enabled {
		return nil, ErrAccountDisabled
	}
	return author, nil
}

// clean runs every field through the content policy and returns the
// storable forms in order.
func (s *PostService) clean(opts moderation.ContentOptions, fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		cleaned, err := s.policy.EnsureCleanContent(f, opts)
		if err != nil {
			recordViolation(err)
			return nil, err
		}
		out[i] = cleaned
	}
	return out, nil
}

// screen scans text and decides whether a flagged verdict may be overridden.
// It reports whether the stored row should be marked as overridden.
func (s *PostService) screen(ctx context.Context, author *models.User, scanContext, text string, override bool) (moderation.Verdict, bool, error) {
	verdict := s.scanner.Scan(ctx, text, moderation.ScanOptions{Context: scanContext})
	if !verdict.Flagged {
		return verdict, false, nil
	}
	if !override {
		s.reportFlagged(author, scanContext, text, verdict)
		return verdict, false, &FlaggedError{Verdict: verdict}
	}
	if !author.IsPrivileged() {
		return verdict, false, ErrOverrideForbidden
	}

	if err := s.security.LogAudit(&models.SecurityAudit{
		Actor:  author.Email,
		Action: "override_flagged_" + scanContext,
		Details: fmt.Sprintf("source=%s score=%.2f text=%q", verdict.Source, verdict.Score,
			util.Excerpt(util.SanitizeForLog(text), 120)),
	}); err != nil {
		logger.Component("moderation").WithError(err).Warn("failed to audit override")
	}
	return verdict, true, nil
}

func (s *PostService) reportFlagged(author *models.User, scanContext, text string, v moderation.Verdict) {
	logger.Component("moderation").WithFields(map[string]interface{}{
		"user_id": author.ID,
		"context": scanContext,
		"score":   v.Score,
		"source":  v.Source,
	}).Info("submission held back")
	if s.notify == nil {
		return
	}
	s.notify.Notify(models.NotificationTypeInfo, EventFlagged, "Content flagged",
		fmt.Sprintf("A %s by %s was held back (%s score %.2f): %s", scanContext, author.Username, v.Source, v.Score,
			util.Excerpt(text, 80)),
		map[string]interface{}{"UserID": author.ID, "Score": v.Score, "Source": string(v.Source)})
}

// CreatePost validates and stores a thread. AllowLinks is honored for
// privileged authors only.
func (s *PostService) CreatePost(ctx context.Context, userID uint, in PostInput) (*models.Post, error) {
	author, err := s.gate(ctx, userID, ratelimit.RulePost)
	if err != nil {
		return nil, err
	}

	opts := moderation.ContentOptions{AllowLinks: in.AllowLinks && author.IsPrivileged()}
	fields, err := s.clean(opts, strings.TrimSpace(in.Title), strings.TrimSpace(in.Body))
	if err != nil {
		return nil, err
	}
	title, body := fields[0], fields[1]

	verdict, overridden, err := s.screen(ctx, author, "post", title+"\n\n"+body, in.Override)
	if err != nil {
		return nil, err
	}

	post := models.Post{
		AuthorID:         author.ID,
		Title:            title,
		Body:             body,
		ToxicityScore:    verdict.Score,
		ModerationSource: string(verdict.Source),
		Overridden:       overridden,
	}
	if err := s.db.Create(&post).Error; err != nil {
		return nil, err
	}
	post.Author = author
	return &post, nil
}

// CreateComment validates and stores a reply on postID.
func (s *PostService) CreateComment(ctx context.Context, userID, postID uint, in CommentInput) (*models.Comment, error) {
	author, err := s.gate(ctx, userID, ratelimit.RuleComment)
	if err != nil {
		return nil, err
	}

	var post models.Post
	if err := s.db.Select("id").First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	fields, err := s.clean(moderation.ContentOptions{}, strings.TrimSpace(in.Body))
	if err != nil {
		return nil, err
	}
	body := fields[0]

	verdict, overridden, err := s.screen(ctx, author, "comment", body, in.Override)
	if err != nil {
		return nil, err
	}

	comment := models.Comment{
		PostID:           post.ID,
		AuthorID:         author.ID,
		Body:             body,
		ToxicityScore:    verdict.Score,
		ModerationSource: string(verdict.Source),
		Overridden:       overridden,
	}
	if err := s.db.Create(&comment).Error; err != nil {
		return nil, err
	}
	comment.Author = author
	return &comment, nil
}

// ListPosts returns recent posts, newest first, with authors.
func (s *PostService) ListPosts(limit int) ([]models.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var posts []models.Post
	err := s.db.Preload("Author").Order("created_at desc").Order("id desc").Limit(limit).Find(&posts).Error
	return posts, err
}

// GetPost loads one post with its comments in order.
func (s *PostService) GetPost(id uint) (*models.Post, error) {
	var post models.Post
	err := s.db.Preload("Author").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc").Order("id asc") }).
		Preload("Comments.Author").
		First(&post, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// Preview scans text for a moderator without storing anything.
func (s *PostService) Preview(ctx context.Context, userID uint, scanContext, text string) (moderation.Verdict, error) {
	if res := s.limiter.Allow(ctx, fmt.Sprint(userID), ratelimit.RuleScan); !res.Success {
		return moderation.Verdict{}, &RateLimitError{Rule: ratelimit.RuleScan, Result: res}
	}
	if scanContext == "" {
		scanContext = "preview"
	}
	return s.scanner.Scan(ctx, text, moderation.ScanOptions{Context: scanContext}), nil
}

// recordViolation counts a policy rejection by reason.
func recordViolation(err error) {
	switch {
	case errors.Is(err, moderation.ErrBlockedLanguage):
		metrics.IncContentBlocked("language")
	case errors.Is(err, moderation.ErrBlockedLink):
		metrics.IncContentBlocked("link")
	case errors.Is(err, moderation.ErrBlockedUsername):
		metrics.IncContentBlocked("username")
	case errors.Is(err, moderation.ErrDisposableEmail):
		metrics.IncContentBlocked("email")
	}
}
