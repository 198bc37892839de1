package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/guarzo/commentproxy/api"
	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
	"github.com/guarzo/commentproxy/modules/comments"
	"github.com/guarzo/commentproxy/modules/moderation"
	"github.com/guarzo/commentproxy/modules/nocode/nocodetest"
	"github.com/guarzo/commentproxy/modules/threads"
	"github.com/guarzo/commentproxy/modules/widget"
)

type ServerTestSuite struct {
	suite.Suite
	mock    *nocodetest.MockClient
	metrics *api.Metrics
	ts      *httptest.Server
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func newCache(t require.TestingT) *common.SWRCache[[]byte] {
	c, err := common.NewSWRCache[[]byte](120*time.Second, 500)
	require.NoError(t, err)
	return c
}

func (s *ServerTestSuite) SetupTest() {
	s.mock = &nocodetest.MockClient{}
	logger := zerolog.Nop()

	commentsCache := newCache(s.T())
	moderationCache := newCache(s.T())
	threadsCache := newCache(s.T())
	commentSvc := comments.NewCommentService(s.mock, commentsCache, nil, logger, moderationCache, threadsCache)
	widgetCache, err := common.NewSWRCache[[]byte](300*time.Second, 100)
	s.Require().NoError(err)

	s.metrics = api.NewMetrics("commentproxy")
	s.metrics.RegisterCache("commentproxy", "comments", commentsCache)

	srv := api.NewServer(api.Services{
		Comments:   commentSvc,
		Threads:    threads.NewThreadService(s.mock, threadsCache, logger),
		Moderation: moderation.NewModerationService(s.mock, commentSvc, moderationCache, logger, threadsCache),
		Widget:     widget.NewWidgetService(widgetCache, "", logger),
	}, api.Options{Instance: "41300_teste", APIKeyConfigured: true}, s.metrics, logger)

	s.ts = httptest.NewServer(srv.Handler())
}

func (s *ServerTestSuite) TearDownTest() {
	s.ts.Close()
}

func (s *ServerTestSuite) do(method, path, body string) (*http.Response, map[string]interface{}) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		s.Require().NoError(json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (s *ServerTestSuite) TestRootAndHealth() {
	resp, body := s.do(http.MethodGet, "/", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("online", body["status"])
	s.Equal("41300_teste", body["instance"])

	resp, body = s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("healthy", body["status"])
}

func (s *ServerTestSuite) TestResponseHeaders() {
	resp, _ := s.do(http.MethodGet, "/", "")
	s.NotEmpty(resp.Header.Get("X-Request-ID"))
	s.Equal("nosniff", resp.Header.Get("X-Content-Type-Options"))
	s.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, s.ts.URL+"/comments", nil)
	req.Header.Set("Origin", "https://blog.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	pre, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	pre.Body.Close()
	s.Equal(http.StatusNoContent, pre.StatusCode)
}

func (s *ServerTestSuite) TestRequestIDIsPropagated() {
	req, _ := http.NewRequest(http.MethodGet, s.ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "7f0c1e36-8d4a-4b8e-9a55-2a0d5a9b1c11")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal("7f0c1e36-8d4a-4b8e-9a55-2a0d5a9b1c11", resp.Header.Get("X-Request-ID"))
}

func (s *ServerTestSuite) TestListCommentsIsCached() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`{"data":[{"id":1,"content":"hello","thread_referencia_id":3}]}`), nil
	}

	for i := 0; i < 3; i++ {
		resp, body := s.do(http.MethodGet, "/comments?thread_id=3", "")
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Len(body["data"], 1)
	}
	s.Equal(1, s.mock.CountCalls("GET", "read/comments"))
}

func (s *ServerTestSuite) TestCreateCommentValidation() {
	resp, body := s.do(http.MethodPost, "/comments", `{"thread_id":1,"author_name":"A","author_email":"bad","content":"x"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("author_email", body["field"])

	resp, _ = s.do(http.MethodPost, "/comments", `{not json`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Empty(s.mock.Calls())
}

func (s *ServerTestSuite) TestCreateComment() {
	s.mock.PostJSONFunc = func(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
		return []byte(`{"id":5}`), nil
	}
	resp, body := s.do(http.MethodPost, "/comments", `{"thread_id":1,"author_name":"A","author_email":"a@example.com","content":"hi"}`)
	s.Equal(http.StatusCreated, resp.StatusCode)
	s.EqualValues(5, body["id"])
}

func (s *ServerTestSuite) TestErrorMapping() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		switch endpoint {
		case "read/comments/404":
			return nil, &common.HTTPError{StatusCode: 404}
		case "read/comments/500":
			return nil, &common.HTTPError{StatusCode: 500, Body: []byte("boom")}
		}
		return nil, errors.New("unexpected")
	}

	resp, _ := s.do(http.MethodGet, "/comments/404", "")
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp, body := s.do(http.MethodGet, "/comments/500", "")
	s.Equal(http.StatusBadGateway, resp.StatusCode)
	s.Equal("upstream request failed", body["error"])
	s.NotEmpty(body["details"])

	resp, _ = s.do(http.MethodGet, "/comments/77", "")
	s.Equal(http.StatusInternalServerError, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/comments/abc", "")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestMalformedUpstreamBodyIsBadGateway() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`<html>maintenance</html>`), nil
	}

	resp, body := s.do(http.MethodGet, "/comments", "")
	s.Equal(http.StatusBadGateway, resp.StatusCode)
	s.Equal("upstream returned an unreadable response", body["error"])

	resp, _ = s.do(http.MethodGet, "/threads/3", "")
	s.Equal(http.StatusBadGateway, resp.StatusCode)
}

func (s *ServerTestSuite) TestAdvancedCommentListing() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		s.Equal("0", params["is_approved"])
		s.Equal("2024-02-01", params["created_at_gte"])
		return []byte(`[{"id":1,"author_name":"Ana","content":"hello"},{"id":2,"author_name":"Bob","content":"bye"}]`), nil
	}

	resp, body := s.do(http.MethodGet, "/api/comments?status=pending&date_from=2024-02-01&search=HELLO", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Require().Len(body["data"], 1)
	s.EqualValues(1, body["data"].([]interface{})[0].(map[string]interface{})["id"])

	resp, _ = s.do(http.MethodGet, "/api/comments?status=spam", "")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestThreadsRoutes() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`[{"id":2,"title":"Post"}]`), nil
	}
	resp, body := s.do(http.MethodGet, "/threads", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["threads"], 1)

	resp, _ = s.do(http.MethodPut, "/threads/2", `{}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(http.MethodPut, "/threads/2", `{"title":"New"}`)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("Thread updated successfully", body["message"])
}

func (s *ServerTestSuite) TestModerationRoutes() {
	resp, body := s.do(http.MethodPost, "/moderation/9", `{"action":"approve"}`)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("Comment 9 successfully approved", body["message"])
	s.Equal(1, s.mock.CountCalls("PUT", "update/comments/9"))

	resp, _ = s.do(http.MethodPost, "/moderation/9", `{"action":"ban"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(http.MethodPost, "/moderation/bulk", `{"comment_ids":[1,2],"action":"delete"}`)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.EqualValues(2, body["successful"])

	resp, _ = s.do(http.MethodPost, "/comments/moderate", `{"comment_ids":[1],"action":"delete"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestWidgetRoutes() {
	resp, body := s.do(http.MethodGet, "/widget/config?thread_id=12", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("12", body["thread_id"])

	resp, body = s.do(http.MethodPost, "/widget/config?thread_id=12", `{"theme":"dark"}`)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("dark", body["config"].(map[string]interface{})["theme"])

	resp, body = s.do(http.MethodGet, "/widget/config?thread_id=12", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("dark", body["theme"])

	resp, _ = s.do(http.MethodPost, "/widget/config", `{"position":"middle"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(http.MethodGet, "/widget/themes", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["themes"], 4)

	resp, body = s.do(http.MethodGet, "/widget/embed/12", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body["embed_html"], "comment-widget-12")

	resp, body = s.do(http.MethodPost, "/widget/preview", `{"theme":"light"}`)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body["preview_html"], "Light Theme")
	s.Equal("light", body["config"].(map[string]interface{})["theme"])

	resp, _ = s.do(http.MethodPost, "/widget/preview", `{"max_comments":0}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestWidgetCommentsTree() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`[{"id":1},{"id":2,"parent_id":1}]`), nil
	}
	resp, body := s.do(http.MethodGet, "/widget/comments/4", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.EqualValues(2, body["total"])
	s.Len(body["comments"], 1)
}

func (s *ServerTestSuite) TestDemoThreadMissing() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`[]`), nil
	}
	resp, _ := s.do(http.MethodGet, "/widget/demo/thread", "")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *ServerTestSuite) TestMetricsExposeRequestsAndCache() {
	s.mock.GetBytesFunc = func(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
		return []byte(`[]`), nil
	}
	s.do(http.MethodGet, "/comments", "")
	s.do(http.MethodGet, "/comments", "")

	resp, err := http.Get(s.ts.URL + "/metrics")
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)

	s.Contains(text, `commentproxy_http_requests_total{method="GET",route="GET /comments",status="200"} 2`)
	s.Contains(text, `commentproxy_cache_hits_total{cache="comments"} 1`)
	s.Contains(text, `commentproxy_cache_misses_total{cache="comments"} 1`)
}

func (s *ServerTestSuite) TestUnknownRoute() {
	resp, _ := s.do(http.MethodGet, "/nope", "")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

type panickingComments struct {
	comments.CommentService
}

func (panickingComments) Get(ctx context.Context, id int64) (*model.Comment, error) {
	panic("boom")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := api.NewServer(api.Services{Comments: panickingComments{}}, api.Options{}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/comments/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_HealthWithoutAPIKey(t *testing.T) {
	srv := api.NewServer(api.Services{}, api.Options{}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key not configured")
}
