package comments_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
	"github.com/guarzo/commentproxy/modules/comments"
	"github.com/guarzo/commentproxy/modules/moderation"
	"github.com/guarzo/commentproxy/modules/nocode"
	"github.com/guarzo/commentproxy/modules/nocode/nocodetest"
	"github.com/guarzo/commentproxy/modules/threads"
)

type mockNotifier struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
}

func (m *mockNotifier) Notify(ctx context.Context, event string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.data = append(m.data, data)
	return nil
}

func (m *mockNotifier) NotifyAsync(ctx context.Context, event string, data interface{}) {
	_ = m.Notify(ctx, event, data)
}

func newCache(t *testing.T) *common.SWRCache[[]byte] {
	t.Helper()
	c, err := common.NewSWRCache[[]byte](120*time.Second, 500)
	require.NoError(t, err)
	return c
}

func int64p(v int64) *int64 { return &v }

func statusp(s model.ApprovalStatus) *model.ApprovalStatus { return &s }

func TestCommentService_ListIsCached(t *testing.T) {
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			assert.Equal(t, "42", params["thread_referencia_id"])
			assert.Equal(t, "created_at", params["sort"])
			return []byte(`{"data":[{"id":1,"thread_referencia_id":42,"content":"first"}]}`), nil
		},
	}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())

	filter := model.CommentFilter{ThreadID: int64p(42)}
	for i := 0; i < 3; i++ {
		out, err := svc.List(context.Background(), filter)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "first", out[0].Content)
	}
	assert.Equal(t, 1, mock.CountCalls("GET", "read/comments"))
}

func TestCommentService_ListKeysDoNotCollide(t *testing.T) {
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			return []byte(`[]`), nil
		},
	}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())
	ctx := context.Background()

	filters := []model.CommentFilter{
		{},
		{ThreadID: int64p(1)},
		{ThreadID: int64p(1), IsApproved: statusp(model.StatusApproved)},
		{ThreadID: int64p(1), Page: 2},
		{ThreadID: int64p(1), Limit: 10},
	}
	for _, f := range filters {
		_, err := svc.List(ctx, f)
		require.NoError(t, err)
	}
	assert.Equal(t, len(filters), mock.CountCalls("GET", "read/comments"))

	assert.Equal(t,
		comments.BuildListKey(model.CommentFilter{ThreadID: int64p(1)}, 1, 50),
		comments.BuildListKey(model.CommentFilter{ThreadID: int64p(1)}, 1, 50))
	assert.NotEqual(t,
		comments.BuildListKey(model.CommentFilter{IsApproved: statusp(model.StatusPending)}, 1, 50),
		comments.BuildListKey(model.CommentFilter{}, 1, 50))
	assert.NotEqual(t,
		comments.BuildListKey(model.CommentFilter{DateFrom: "2024-01-01"}, 1, 50),
		comments.BuildListKey(model.CommentFilter{DateTo: "2024-01-01"}, 1, 50))
}

func TestCommentService_ListAdvancedFilters(t *testing.T) {
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			assert.Equal(t, "2", params["is_approved"])
			assert.Equal(t, "2024-01-01", params["created_at_gte"])
			assert.Equal(t, "2024-01-31T23:59:59Z", params["created_at_lte"])
			return []byte(`{"data":[
				{"id":1,"author_name":"Ana","content":"Nice POST"},
				{"id":2,"author_name":"Bob","content":"meh"},
				{"id":3,"author_name":"Postman","content":"hi"}
			]}`), nil
		},
	}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())
	ctx := context.Background()

	filter := model.CommentFilter{
		Status:   "rejected",
		DateFrom: "2024-01-01",
		DateTo:   "2024-01-31T23:59:59Z",
		Search:   "post",
	}
	out, err := svc.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.EqualValues(t, 1, out[0].ID)
	assert.EqualValues(t, 3, out[1].ID)

	filter.Search = "BOB"
	out, err = svc.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualValues(t, 2, out[0].ID)

	filter.Search = ""
	out, err = svc.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	// search narrows the cached page, it never changes what is read upstream
	assert.Equal(t, 1, mock.CountCalls("GET", "read/comments"))
}

func TestCommentService_ListAdvancedFilterValidation(t *testing.T) {
	mock := &nocodetest.MockClient{}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())

	cases := map[string]model.CommentFilter{
		"status":    {Status: "spam"},
		"date_from": {DateFrom: "yesterday"},
		"date_to":   {DateTo: "2024-13-01"},
	}
	for field, f := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := svc.List(context.Background(), f)
			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
		})
	}
	assert.Empty(t, mock.Calls())
}

func TestCommentService_MalformedBodyIsNotCached(t *testing.T) {
	calls := 0
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			calls++
			if calls == 1 {
				return []byte(`<html>maintenance</html>`), nil
			}
			return []byte(`[]`), nil
		},
	}
	cache := newCache(t)
	svc := comments.NewCommentService(mock, cache, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.List(ctx, model.CommentFilter{})
	assert.ErrorIs(t, err, common.ErrMalformedResponse)
	assert.Equal(t, 0, cache.Len())

	out, err := svc.List(ctx, model.CommentFilter{})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = svc.List(ctx, model.CommentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// commentStore is an in-memory comments table behind a MockClient.
type commentStore struct {
	mu   sync.Mutex
	rows []model.Comment
}

func (st *commentStore) client() *nocodetest.MockClient {
	return &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			out := []model.Comment{}
			for _, c := range st.rows {
				if v := params["is_approved"]; v != "" && v != strconv.Itoa(int(c.IsApproved)) {
					continue
				}
				if v := params["thread_referencia_id"]; v != "" && v != strconv.FormatInt(c.ThreadID, 10) {
					continue
				}
				out = append(out, c)
			}
			return nocodetest.JSON(out), nil
		},
		PostJSONFunc: func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
			rec := payload.(model.CommentRecord)
			st.mu.Lock()
			defer st.mu.Unlock()
			id := int64(len(st.rows) + 1)
			st.rows = append(st.rows, model.Comment{ID: id, ThreadID: rec.ThreadID, Content: rec.Content, IsApproved: rec.IsApproved})
			return nocodetest.JSON(model.CreateResult{ID: id}), nil
		},
		PutJSONFunc: func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
			id, err := strconv.ParseInt(strings.TrimPrefix(endpoint, "update/comments/"), 10, 64)
			if err != nil {
				return nil, err
			}
			status := payload.(map[string]model.ApprovalStatus)["is_approved"]
			st.mu.Lock()
			defer st.mu.Unlock()
			for i := range st.rows {
				if st.rows[i].ID == id {
					st.rows[i].IsApproved = status
				}
			}
			return []byte(`{}`), nil
		},
	}
}

func TestCommentWritesClearDerivedCaches(t *testing.T) {
	store := &commentStore{}
	mock := store.client()
	logger := zerolog.Nop()

	commentsCache, moderationCache, threadsCache := newCache(t), newCache(t), newCache(t)
	commentSvc := comments.NewCommentService(mock, commentsCache, nil, logger, moderationCache, threadsCache)
	moderationSvc := moderation.NewModerationService(mock, commentSvc, moderationCache, logger, threadsCache)
	threadSvc := threads.NewThreadService(mock, threadsCache, logger)
	ctx := context.Background()

	queue, err := moderationSvc.Queue(ctx, "pending", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Total)
	stats, err := threadSvc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	_, err = commentSvc.Create(ctx, model.CommentCreate{
		ThreadID:    1,
		AuthorName:  "Ana",
		AuthorEmail: "ana@example.com",
		Content:     "first",
	})
	require.NoError(t, err)

	queue, err = moderationSvc.Queue(ctx, "pending", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Total)
	stats, err = threadSvc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)

	require.NoError(t, moderationSvc.Moderate(ctx, 1, model.ActionApprove))

	queue, err = moderationSvc.Queue(ctx, "pending", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Total)
	stats, err = threadSvc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 0, stats.Pending)

	modStats, err := moderationSvc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, modStats.Approved)

	require.NoError(t, commentSvc.Delete(ctx, 1))
	assert.Equal(t, 0, moderationCache.Len())
	assert.Equal(t, 0, threadsCache.Len())
}

func TestCommentService_ListValidation(t *testing.T) {
	svc := comments.NewCommentService(&nocodetest.MockClient{}, newCache(t), nil, zerolog.Nop())

	_, err := svc.List(context.Background(), model.CommentFilter{Limit: 5000})
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.List(context.Background(), model.CommentFilter{IsApproved: statusp(7)})
	require.ErrorAs(t, err, &verr)
}

func TestCommentService_GetNotFound(t *testing.T) {
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			return nil, &common.HTTPError{StatusCode: 404, Body: []byte("missing")}
		},
	}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())

	_, err := svc.Get(context.Background(), 9)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCommentService_CreateClearsCacheAndNotifies(t *testing.T) {
	cache := newCache(t)
	notifier := &mockNotifier{}
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			return []byte(`[]`), nil
		},
		PostJSONFunc: func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
			assert.Equal(t, nocode.CreateEndpoint(nocode.TableComments), endpoint)
			rec := payload.(model.CommentRecord)
			assert.Equal(t, comments.HashEmail("John@Example.com"), rec.AuthorEmailHash)
			assert.Equal(t, model.StatusPending, rec.IsApproved)
			return []byte(`{"id":77}`), nil
		},
	}
	svc := comments.NewCommentService(mock, cache, notifier, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.List(ctx, model.CommentFilter{ThreadID: int64p(42)})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	res, err := svc.Create(ctx, model.CommentCreate{
		ThreadID:    42,
		AuthorName:  "John Doe",
		AuthorEmail: "John@Example.com",
		Content:     "Great article",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 77, res.ID)
	assert.Equal(t, 0, cache.Len(), "create must invalidate cached reads")

	_, err = svc.List(ctx, model.CommentFilter{ThreadID: int64p(42)})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CountCalls("GET", "read/comments"))

	require.Equal(t, []string{comments.EventCommentCreated}, notifier.events)
	assert.EqualValues(t, 77, notifier.data[0].(map[string]interface{})["comment_id"])
}

func TestCommentService_CreateValidation(t *testing.T) {
	mock := &nocodetest.MockClient{}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())

	cases := map[string]model.CommentCreate{
		"thread_id":    {AuthorName: "a", AuthorEmail: "a@b.co", Content: "x"},
		"author_name":  {ThreadID: 1, AuthorEmail: "a@b.co", Content: "x"},
		"author_email": {ThreadID: 1, AuthorName: "a", AuthorEmail: "nope", Content: "x"},
		"content":      {ThreadID: 1, AuthorName: "a", AuthorEmail: "a@b.co", Content: "  "},
		"is_approved":  {ThreadID: 1, AuthorName: "a", AuthorEmail: "a@b.co", Content: "x", IsApproved: statusp(5)},
	}
	for field, in := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := svc.Create(context.Background(), in)
			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
		})
	}
	assert.Empty(t, mock.Calls())
}

func TestCommentService_ModerateAndDeleteClearCache(t *testing.T) {
	cache := newCache(t)
	mock := &nocodetest.MockClient{}
	svc := comments.NewCommentService(mock, cache, nil, zerolog.Nop())
	ctx := context.Background()

	cache.Set("comments:id:1", []byte(`{"id":1}`))
	require.NoError(t, svc.Moderate(ctx, 1, model.StatusApproved))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1, mock.CountCalls("PUT", "update/comments/1"))

	cache.Set("comments:id:1", []byte(`{"id":1}`))
	require.NoError(t, svc.Delete(ctx, 1))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1, mock.CountCalls("DELETE", "delete/comments/1"))

	var verr *common.ValidationError
	assert.ErrorAs(t, svc.Moderate(ctx, 1, 9), &verr)
}

func TestCommentService_Tree(t *testing.T) {
	mock := &nocodetest.MockClient{
		GetBytesFunc: func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
			assert.Equal(t, "1", params["is_approved"])
			assert.Equal(t, "1000", params["limit"])
			return []byte(`[
				{"id":1,"content":"root a","parent_id":null},
				{"id":2,"content":"root b"},
				{"id":3,"content":"reply to a","parent_id":1},
				{"id":4,"content":"reply to reply","parent_id":3},
				{"id":5,"content":"orphan","parent_id":99}
			]`), nil
		},
	}
	svc := comments.NewCommentService(mock, newCache(t), nil, zerolog.Nop())

	tree, err := svc.Tree(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, tree.ThreadID)
	assert.Equal(t, 5, tree.Total)
	require.Len(t, tree.Comments, 2)

	a := tree.Comments[0]
	assert.EqualValues(t, 1, a.ID)
	require.Len(t, a.Replies, 1)
	assert.EqualValues(t, 3, a.Replies[0].ID)
	require.Len(t, a.Replies[0].Replies, 1)
	assert.EqualValues(t, 4, a.Replies[0].Replies[0].ID)
	assert.Empty(t, tree.Comments[1].Replies)

	// served from cache the second time
	_, err = svc.Tree(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.CountCalls("GET", "read/comments"))
}

func TestHashEmail_NormalisesCase(t *testing.T) {
	assert.Equal(t, comments.HashEmail("alice@example.com"), comments.HashEmail(" ALICE@example.com "))
	assert.Len(t, comments.HashEmail("alice@example.com"), 32)
}
