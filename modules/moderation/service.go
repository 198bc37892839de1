package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
	"github.com/guarzo/commentproxy/modules/nocode"
)

// CommentModerator is the part of the comments service moderation writes go through.
type CommentModerator interface {
	Moderate(ctx context.Context, id int64, status model.ApprovalStatus) error
	Delete(ctx context.Context, id int64) error
	Invalidate()
}

// ModerationService backs the moderation dashboard.
type ModerationService interface {
	Queue(ctx context.Context, status string, limit, offset int) (*model.ModerationQueue, error)
	Stats(ctx context.Context) (*model.ModerationStats, error)
	Moderate(ctx context.Context, id int64, action model.ModerationAction) error
	Bulk(ctx context.Context, ids []int64, action model.ModerationAction) (*model.BulkModerationResult, error)
}

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 1000
	countLimit        = 1000
	bulkConcurrency   = 8
)

type moderationService struct {
	client   nocode.Client
	comments CommentModerator
	cache    common.CacheRepository[[]byte]
	logger   zerolog.Logger
	now      func() time.Time
	related  []common.Clearer
}

// NewModerationService wires the service. Moderation writes clear the
// moderation cache, the comments service's caches and each of related.
func NewModerationService(client nocode.Client, comments CommentModerator, cache common.CacheRepository[[]byte], logger zerolog.Logger, related ...common.Clearer) ModerationService {
	return &moderationService{
		client:   client,
		comments: comments,
		cache:    cache,
		logger:   logger.With().Str("component", "moderation").Logger(),
		now:      time.Now,
		related:  related,
	}
}

// upstreamWindow maps an offset/limit window onto limit-sized backend pages.
// The window starts skip rows into page; a non-zero skip means it runs on
// into page+1. At most two pages of limit rows are read whatever the offset.
func upstreamWindow(limit, offset int) (page, skip int) {
	return offset/limit + 1, offset % limit
}

func (s *moderationService) invalidate() {
	s.cache.Clear()
	common.ClearAll(s.related...)
}

func (s *moderationService) readQueuePage(ctx context.Context, approval model.ApprovalStatus, page, limit int) ([]model.Comment, error) {
	data, err := s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableComments), map[string]string{
		"is_approved": strconv.Itoa(int(approval)),
		"page":        strconv.Itoa(page),
		"limit":       strconv.Itoa(limit),
		"sort":        "created_at",
		"order":       "desc",
	})
	if err != nil {
		return nil, err
	}
	return nocode.DecodeList[model.Comment](data)
}

func (s *moderationService) Queue(ctx context.Context, status string, limit, offset int) (*model.ModerationQueue, error) {
	if status == "" {
		status = model.StatusPending.String()
	}
	approval, ok := model.ParseApprovalStatus(status)
	if !ok {
		return nil, common.Invalid("status", "must be one of pending, approved, rejected")
	}
	if limit == 0 {
		limit = defaultQueueLimit
	}
	if limit < 1 || limit > maxQueueLimit {
		return nil, common.Invalid("limit", "must be between 1 and %d", maxQueueLimit)
	}
	if offset < 0 {
		return nil, common.Invalid("offset", "must be >= 0")
	}

	key := fmt.Sprintf("moderation:queue:%s:%d:%d", status, limit, offset)
	queue, err := common.FetchCachedJSON(s.cache, key, func() (model.ModerationQueue, error) {
		page, skip := upstreamWindow(limit, offset)
		comments, err := s.readQueuePage(ctx, approval, page, limit)
		if err != nil {
			return model.ModerationQueue{}, err
		}
		// a short page is the last one
		if skip > 0 && len(comments) == limit {
			next, err := s.readQueuePage(ctx, approval, page+1, limit)
			if err != nil {
				return model.ModerationQueue{}, err
			}
			comments = append(comments, next...)
		}
		if skip >= len(comments) {
			comments = []model.Comment{}
		} else {
			comments = comments[skip:]
		}
		if len(comments) > limit {
			comments = comments[:limit]
		}
		return model.ModerationQueue{
			Comments: comments,
			Total:    len(comments),
			Limit:    limit,
			Offset:   offset,
			Status:   status,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

// Stats counts each moderation state concurrently.
func (s *moderationService) Stats(ctx context.Context) (*model.ModerationStats, error) {
	stats, err := common.FetchCachedJSON(s.cache, "moderation:stats", func() (model.ModerationStats, error) {
		states := []model.ApprovalStatus{model.StatusPending, model.StatusApproved, model.StatusRejected}
		counts := make([]int, len(states))

		p := pool.New().WithErrors().WithContext(ctx)
		for i, st := range states {
			p.Go(func(ctx context.Context) error {
				n, err := s.count(ctx, st)
				if err != nil {
					return fmt.Errorf("failed to count %s comments: %w", st, err)
				}
				counts[i] = n
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return model.ModerationStats{}, err
		}

		return model.ModerationStats{
			Pending:    counts[0],
			Approved:   counts[1],
			Rejected:   counts[2],
			Total:      counts[0] + counts[1] + counts[2],
			LastUpdate: s.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *moderationService) count(ctx context.Context, status model.ApprovalStatus) (int, error) {
	data, err := s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableComments), map[string]string{
		"is_approved": strconv.Itoa(int(status)),
		"limit":       strconv.Itoa(countLimit),
	})
	if err != nil {
		return 0, err
	}
	comments, err := nocode.DecodeList[model.Comment](data)
	if err != nil {
		return 0, err
	}
	return len(comments), nil
}

func (s *moderationService) apply(ctx context.Context, id int64, action model.ModerationAction) error {
	switch action {
	case model.ActionApprove:
		return s.comments.Moderate(ctx, id, model.StatusApproved)
	case model.ActionReject:
		return s.comments.Moderate(ctx, id, model.StatusRejected)
	case model.ActionDelete:
		return s.comments.Delete(ctx, id)
	}
	return common.Invalid("action", "must be one of approve, reject, delete")
}

func (s *moderationService) Moderate(ctx context.Context, id int64, action model.ModerationAction) error {
	if !action.Valid() {
		return common.Invalid("action", "must be one of approve, reject, delete")
	}

	err := s.apply(ctx, id, action)
	s.invalidate()
	if err != nil {
		return err
	}

	s.logger.Info().Int64("comment_id", id).Str("action", string(action)).Msg("comment moderated")
	return nil
}

// Bulk applies action to every id. A failure on one id is reported in its
// result and does not stop the others.
func (s *moderationService) Bulk(ctx context.Context, ids []int64, action model.ModerationAction) (*model.BulkModerationResult, error) {
	if !action.Valid() {
		return nil, common.Invalid("action", "must be one of approve, reject, delete")
	}
	if len(ids) == 0 {
		return nil, common.Invalid("comment_ids", "no comment ids provided")
	}

	results := make([]model.ModerationResult, len(ids))
	p := pool.New().WithMaxGoroutines(bulkConcurrency)
	for i, id := range ids {
		p.Go(func() {
			res := model.ModerationResult{CommentID: id, Success: true}
			if err := s.apply(ctx, id, action); err != nil {
				res.Success = false
				res.Error = err.Error()
			}
			results[i] = res
		})
	}
	p.Wait()

	s.invalidate()
	s.comments.Invalidate()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}

	s.logger.Info().
		Str("action", string(action)).
		Int("successful", successful).
		Int("total", len(ids)).
		Msg("bulk moderation finished")

	return &model.BulkModerationResult{
		Message:    fmt.Sprintf("Successfully %s %d out of %d comments", action.PastTense(), successful, len(ids)),
		Results:    results,
		Successful: successful,
		Total:      len(ids),
	}, nil
}
