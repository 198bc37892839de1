package threads

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
	"github.com/guarzo/commentproxy/modules/nocode"
)

// ThreadService is the higher-level interface for commentable pages.
type ThreadService interface {
	List(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error)
	Get(ctx context.Context, id int64) (*model.Thread, error)
	Create(ctx context.Context, in model.ThreadCreate) (*model.Thread, error)
	Update(ctx context.Context, id int64, in model.ThreadUpdate) error
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context, id int64) (*model.ThreadStats, error)
	Demo(ctx context.Context) (*model.Thread, error)
}

const (
	defaultListLimit = 10
	maxListLimit     = 100
	statsLimit       = 1000
	defaultOwnerID   = 1

	DemoExternalPageID = "demo-public"
)

type threadRecord struct {
	OwnerID        int64  `json:"usuario_proprietario_id"`
	ExternalPageID string `json:"external_page_id"`
	URL            string `json:"url"`
	Title          string `json:"title"`
}

type threadService struct {
	client nocode.Client
	cache  common.CacheRepository[[]byte]
	logger zerolog.Logger
}

func NewThreadService(client nocode.Client, cache common.CacheRepository[[]byte], logger zerolog.Logger) ThreadService {
	return &threadService{
		client: client,
		cache:  cache,
		logger: logger.With().Str("component", "threads").Logger(),
	}
}

// BuildListKey composes the cache key for a thread listing.
func BuildListKey(ownerID *int64, page, limit int) string {
	owner := "all"
	if ownerID != nil {
		owner = strconv.FormatInt(*ownerID, 10)
	}
	return fmt.Sprintf("threads:list:owner=%s:page=%d:limit=%d", owner, page, limit)
}

func (s *threadService) List(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error) {
	page, limit, err := common.Paging(filter.Page, filter.Limit, defaultListLimit, maxListLimit)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	}
	if filter.OwnerID != nil {
		params["usuario_proprietario_id"] = strconv.FormatInt(*filter.OwnerID, 10)
	}

	return common.FetchCached(s.cache, BuildListKey(filter.OwnerID, page, limit), func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableThreads), params)
	}, nocode.DecodeList[model.Thread])
}

func (s *threadService) Get(ctx context.Context, id int64) (*model.Thread, error) {
	if id <= 0 {
		return nil, common.Invalid("thread_id", "must be positive")
	}

	th, err := common.FetchCached(s.cache, fmt.Sprintf("threads:id:%d", id), func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadOneEndpoint(nocode.TableThreads, id), nil)
	}, nocode.DecodeOne[model.Thread])
	if err != nil {
		if nocode.IsNotFound(err) {
			return nil, common.NotFoundf("thread %d", id)
		}
		return nil, err
	}
	return th, nil
}

func (s *threadService) Create(ctx context.Context, in model.ThreadCreate) (*model.Thread, error) {
	title := strings.TrimSpace(in.Title)
	url := strings.TrimSpace(in.URL)
	if title == "" {
		return nil, common.Invalid("title", "is required")
	}
	if url == "" {
		return nil, common.Invalid("url", "is required")
	}

	record := threadRecord{
		OwnerID:        in.OwnerID,
		ExternalPageID: strings.TrimSpace(in.ExternalPageID),
		URL:            url,
		Title:          title,
	}
	if record.OwnerID <= 0 {
		record.OwnerID = defaultOwnerID
	}
	if record.ExternalPageID == "" {
		record.ExternalPageID = "thread_" + uuid.NewString()
	}

	data, err := s.client.PostJSON(ctx, nocode.CreateEndpoint(nocode.TableThreads), record)
	if err != nil {
		s.logger.Error().Err(err).Str("external_page_id", record.ExternalPageID).Msg("thread creation failed")
		return nil, err
	}
	s.cache.Clear()

	result, err := nocode.DecodeOne[model.CreateResult](data)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("thread_id", result.ID).Str("external_page_id", record.ExternalPageID).Msg("thread created")
	return &model.Thread{
		ID:             result.ID,
		OwnerID:        record.OwnerID,
		ExternalPageID: record.ExternalPageID,
		URL:            record.URL,
		Title:          record.Title,
	}, nil
}

func (s *threadService) Update(ctx context.Context, id int64, in model.ThreadUpdate) error {
	if id <= 0 {
		return common.Invalid("thread_id", "must be positive")
	}

	changes := map[string]string{}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return common.Invalid("title", "must not be empty")
		}
		changes["title"] = strings.TrimSpace(*in.Title)
	}
	if in.URL != nil {
		if strings.TrimSpace(*in.URL) == "" {
			return common.Invalid("url", "must not be empty")
		}
		changes["url"] = strings.TrimSpace(*in.URL)
	}
	if len(changes) == 0 {
		return common.Invalid("", "no update data provided")
	}

	_, err := s.client.PutJSON(ctx, nocode.UpdateEndpoint(nocode.TableThreads, id), changes)
	s.cache.Clear()
	if err != nil {
		if nocode.IsNotFound(err) {
			return common.NotFoundf("thread %d", id)
		}
		return err
	}

	s.logger.Info().Int64("thread_id", id).Int("fields", len(changes)).Msg("thread updated")
	return nil
}

func (s *threadService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return common.Invalid("thread_id", "must be positive")
	}

	_, err := s.client.DeleteJSON(ctx, nocode.DeleteEndpoint(nocode.TableThreads, id))
	s.cache.Clear()
	if err != nil {
		if nocode.IsNotFound(err) {
			return common.NotFoundf("thread %d", id)
		}
		return err
	}

	s.logger.Info().Int64("thread_id", id).Msg("thread deleted")
	return nil
}

// Stats counts the thread's comments per moderation state.
func (s *threadService) Stats(ctx context.Context, id int64) (*model.ThreadStats, error) {
	if id <= 0 {
		return nil, common.Invalid("thread_id", "must be positive")
	}

	stats, err := common.FetchCachedJSON(s.cache, fmt.Sprintf("threads:stats:%d", id), func() (model.ThreadStats, error) {
		data, err := s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableComments), map[string]string{
			"thread_referencia_id": strconv.FormatInt(id, 10),
			"limit":                strconv.Itoa(statsLimit),
		})
		if err != nil {
			return model.ThreadStats{}, err
		}
		comments, err := nocode.DecodeList[model.Comment](data)
		if err != nil {
			return model.ThreadStats{}, err
		}
		return countStatuses(id, comments), nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func countStatuses(threadID int64, comments []model.Comment) model.ThreadStats {
	stats := model.ThreadStats{ThreadID: threadID, Total: len(comments)}
	for _, c := range comments {
		switch c.IsApproved {
		case model.StatusApproved:
			stats.Approved++
		case model.StatusRejected:
			stats.Rejected++
		default:
			stats.Pending++
		}
	}
	return stats
}

// Demo returns the public demonstration thread.
func (s *threadService) Demo(ctx context.Context) (*model.Thread, error) {
	threads, err := common.FetchCached(s.cache, "threads:demo", func() ([]byte, error) {
		return s.client.GetBytes(ctx, nocode.ReadEndpoint(nocode.TableThreads), map[string]string{
			"external_page_id": DemoExternalPageID,
		})
	}, nocode.DecodeList[model.Thread])
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, common.NotFoundf("demo thread")
	}
	return &threads[0], nil
}
