package comments

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
	"github.com/guarzo/commentproxy/modules/nocode"
	"github.com/guarzo/commentproxy/modules/webhook"
)

// CommentService is the higher-level interface the HTTP layer uses for comments.
// Reads go through the comments cache; every write clears it along with the
// related caches handed to NewCommentService.
type CommentService interface {
	List(ctx context.Context, filter model.CommentFilter) ([]model.Comment, error)
	Get(ctx context.Context, id int64) (*model.Comment, error)
	Tree(ctx context.Context, threadID int64) (*model.CommentTree, error)
	Create(ctx context.Context, in model.CommentCreate) (*model.CreateResult, error)
	Moderate(ctx context.Context, id int64, status model.ApprovalStatus) error
	Delete(ctx context.Context, id int64) error
	// Invalidate drops every cached comment read and everything derived from comments.
	Invalidate()
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	treeLimit        = 1000

	EventCommentCreated = "comment.created"
)

type commentService struct {
	client   nocode.Client
	cache    common.CacheRepository[[]byte]
	notifier webhook.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	// caches of other collections computed from comments
	related []common.Clearer
}

// NewCommentService wires the service. notifier may be nil. Every comment
// write clears the comments cache and each of related (moderation queues,
// thread stats).
func NewCommentService(client nocode.Client, cache common.CacheRepository[[]byte], notifier webhook.Notifier, logger zerolog.Logger, related ...common.Clearer) CommentService {
	return &commentService{
		client:   client,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With().Str("component", "comments").Logger(),
		now:      time.Now,
		related:  related,
	}
}

// BuildListKey composes the cache key for a listing from every value sent
// upstream. The filter must already be normalized (Status resolved into
// IsApproved). Search is applied to the cached page and is not part of the key.
func BuildListKey(filter model.CommentFilter, page, limit int) string {
	thread := "all"
	if filter.ThreadID != nil {
		thread = strconv.FormatInt(*filter.ThreadID, 10)
	}
	status := "any"
	if filter.IsApproved != nil {
		status = strconv.Itoa(int(*filter.IsApproved))
	}
	// E.g. "comments:list:thread=42:approved=1:from=:to=:page=1:limit=50"
	return fmt.Sprintf("comments:list:thread=%s:approved=%s:from=%s:to=%s:page=%d:limit=%d",
		thread, status, filter.DateFrom, filter.DateTo, page, limit)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func validDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// normalizeFilter resolves Status into IsApproved and checks the date bounds.
func normalizeFilter(filter model.CommentFilter) (model.CommentFilter, error) {
	filter.Status = strings.TrimSpace(filter.Status)
	filter.Search = strings.TrimSpace(filter.Search)
	filter.DateFrom = strings.TrimSpace(filter.DateFrom)
	filter.DateTo = strings.TrimSpace(filter.DateTo)

	if filter.Status != "" {
		st, ok := model.ParseApprovalStatus(filter.Status)
		if !ok {
			return filter, common.Invalid("status", "must be one of pending, approved, rejected")
		}
		filter.IsApproved = &st
		filter.Status = ""
	}
	if filter.IsApproved != nil && !filter.IsApproved.Valid() {
		return filter, common.Invalid("is_approved", "must be 0, 1 or 2")
	}
	if filter.DateFrom != "" && !validDate(filter.DateFrom) {
		return filter, common.Invalid("date_from", "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	if filter.DateTo != "" && !validDate(filter.DateTo) {
		return filter, common.Invalid("date_to", "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	return filter, nil
}

// filterSearch keeps the comments whose content or author name contains term,
// ignoring case. An empty term keeps everything.
func filterSearch(list []model.Comment, term string) []model.Comment {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return list
	}
	out := make([]model.Comment, 0, len(list))
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Content), term) || strings.Contains(strings.ToLower(c.AuthorName), term) {
			out = append(out, c)
		}
	}
	return out
}

func (s *commentService) List(ctx context.Context, filter model.CommentFilter) ([]model.Comment, error) {
	page, limit, err := common.Paging(filter.Page, filter.Limit, defaultListLimit, maxListLimit)
	if err != nil {
		return nil, err
	}
	filter, err = normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
		"sort":  "created_at",
		"order": "asc",
	}
	if filter.ThreadID != nil {
		params["thread_referencia_id"] = strconv.FormatInt(*filter.ThreadID, 10)
	}
	if filter.IsApproved != nil {
		params["is_approved"] = strconv.Itoa(int(*filter.IsApproved))
	}
	if filter.DateFrom != "" {
		params["created_at_gte"] = filter.DateFrom
	}
	if filter.DateTo != "" {
		params["created_at_lte"] = filter.DateTo
	}

	list, err := common.FetchCached(s.cache, BuildListKey(filter, page, limit), func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableComments), params)
	}, nocode.DecodeList[model.Comment])
	if err != nil {
		return nil, err
	}
	return filterSearch(list, filter.Search), nil
}

func (s *commentService) Get(ctx context.Context, id int64) (*model.Comment, error) {
	if id <= 0 {
		return nil, common.Invalid("comment_id", "must be positive")
	}

	key := fmt.Sprintf("comments:id:%d", id)
	c, err := common.FetchCached(s.cache, key, func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadOneEndpoint(nocode.TableComments, id), nil)
	}, nocode.DecodeOne[model.Comment])
	if err != nil {
		if nocode.IsNotFound(err) {
			return nil, common.NotFoundf("comment %d", id)
		}
		return nil, err
	}
	return c, nil
}

// Tree returns the approved comments of a thread nested by parent.
func (s *commentService) Tree(ctx context.Context, threadID int64) (*model.CommentTree, error) {
	if threadID <= 0 {
		return nil, common.Invalid("thread_id", "must be positive")
	}

	params := map[string]string{
		"thread_referencia_id": strconv.FormatInt(threadID, 10),
		"is_approved":          strconv.Itoa(int(model.StatusApproved)),
		"limit":                strconv.Itoa(treeLimit),
		"sort":                 "created_at",
		"order":                "asc",
	}

	key := fmt.Sprintf("comments:tree:%d", threadID)
	flat, err := common.FetchCached(s.cache, key, func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableComments), params)
	}, nocode.DecodeList[model.Comment])
	if err != nil {
		return nil, err
	}

	return &model.CommentTree{
		ThreadID: threadID,
		Comments: BuildTree(flat),
		Total:    len(flat),
	}, nil
}

// BuildTree nests comments under their parents, preserving input order.
// Replies whose parent is not part of the list are dropped.
func BuildTree(flat []model.Comment) []*model.Comment {
	nodes := make([]*model.Comment, len(flat))
	byID := make(map[int64]*model.Comment, len(flat))
	for i := range flat {
		c := flat[i]
		c.Replies = []*model.Comment{}
		nodes[i] = &c
		byID[c.ID] = &c
	}

	roots := []*model.Comment{}
	for _, c := range nodes {
		if c.ParentID == nil {
			roots = append(roots, c)
			continue
		}
		if parent, ok := byID[*c.ParentID]; ok && parent != c {
			parent.Replies = append(parent.Replies, c)
		}
	}
	return roots
}

// HashEmail is the privacy-preserving form stored upstream.
func HashEmail(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func validateCreate(in model.CommentCreate) error {
	switch {
	case in.ThreadID <= 0:
		return common.Invalid("thread_id", "must be positive")
	case strings.TrimSpace(in.AuthorName) == "":
		return common.Invalid("author_name", "is required")
	case !common.ValidEmail(in.AuthorEmail):
		return common.Invalid("author_email", "is not a valid email address")
	case strings.TrimSpace(in.Content) == "":
		return common.Invalid("content", "is required")
	case in.ParentID != nil && *in.ParentID <= 0:
		return common.Invalid("parent_id", "must be positive")
	case in.IsApproved != nil && !in.IsApproved.Valid():
		return common.Invalid("is_approved", "must be 0, 1 or 2")
	}
	return nil
}

func (s *commentService) Create(ctx context.Context, in model.CommentCreate) (*model.CreateResult, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	record := model.CommentRecord{
		ThreadID:        in.ThreadID,
		AuthorName:      strings.TrimSpace(in.AuthorName),
		AuthorEmailHash: HashEmail(in.AuthorEmail),
		Content:         in.Content,
		IsApproved:      model.StatusPending,
		ParentID:        in.ParentID,
	}
	if in.IsApproved != nil {
		record.IsApproved = *in.IsApproved
	}

	start := s.now()
	data, err := s.client.PostJSON(ctx, nocode.CreateEndpoint(nocode.TableComments), record)
	if err != nil {
		s.logger.Error().Err(err).Int64("thread_id", in.ThreadID).Msg("comment creation failed")
		return nil, err
	}
	s.Invalidate()

	result, err := nocode.DecodeOne[model.CreateResult](data)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("thread_id", in.ThreadID).
		Int64("comment_id", result.ID).
		Int("content_length", len(in.Content)).
		Bool("has_parent", in.ParentID != nil).
		Dur("duration", s.now().Sub(start)).
		Msg("comment created")

	if s.notifier != nil {
		s.notifier.NotifyAsync(ctx, EventCommentCreated, map[string]interface{}{
			"comment_id":  result.ID,
			"thread_id":   in.ThreadID,
			"author_name": record.AuthorName,
			"content":     in.Content,
			"is_approved": record.IsApproved,
			"created_at":  start.UTC().Format(time.RFC3339),
			"parent_id":   in.ParentID,
		})
	}

	return result, nil
}

func (s *commentService) Moderate(ctx context.Context, id int64, status model.ApprovalStatus) error {
	if id <= 0 {
		return common.Invalid("comment_id", "must be positive")
	}
	if !status.Valid() {
		return common.Invalid("is_approved", "must be 0, 1 or 2")
	}

	_, err := s.client.PutJSON(ctx, nocode.UpdateEndpoint(nocode.TableComments, id), map[string]model.ApprovalStatus{
		"is_approved": status,
	})
	// the upstream may have applied the write even when the call failed
	s.Invalidate()
	if err != nil {
		if nocode.IsNotFound(err) {
			return common.NotFoundf("comment %d", id)
		}
		return err
	}

	s.logger.Info().Int64("comment_id", id).Str("status", status.String()).Msg("comment moderated")
	return nil
}

func (s *commentService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return common.Invalid("comment_id", "must be positive")
	}

	_, err := s.client.DeleteJSON(ctx, nocode.DeleteEndpoint(nocode.TableComments, id))
	s.Invalidate()
	if err != nil {
		if nocode.IsNotFound(err) {
			return common.NotFoundf("comment %d", id)
		}
		return err
	}

	s.logger.Info().Int64("comment_id", id).Msg("comment deleted")
	return nil
}

func (s *commentService) Invalidate() {
	s.cache.Clear()
	common.ClearAll(s.related...)
}
