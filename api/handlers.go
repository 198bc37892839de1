package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":  ServiceName,
		"status":   "online",
		"version":  ServiceVersion,
		"instance": s.opts.Instance,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.opts.APIKeyConfigured {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "API key not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// ----------------------------------------------------------------------
// Comments
// ----------------------------------------------------------------------

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	var filter model.CommentFilter
	var err error
	if filter.ThreadID, err = queryInt64(r, "thread_id"); err != nil {
		writeError(w, r, err)
		return
	}
	approved, err := queryInt64(r, "is_approved")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if approved != nil {
		st := model.ApprovalStatus(*approved)
		filter.IsApproved = &st
	}
	if filter.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter.Status = q.Get("status")
	filter.Search = q.Get("search")
	filter.DateFrom = q.Get("date_from")
	filter.DateTo = q.Get("date_to")

	list, err := s.services.Comments.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": list})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var in model.CommentCreate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.services.Comments.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.services.Comments.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.services.Comments.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Message{Message: "Comment deleted successfully"})
}

func (s *Server) handleModerateComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		IsApproved *model.ApprovalStatus `json:"is_approved"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.IsApproved == nil {
		writeError(w, r, common.Invalid("is_approved", "is required"))
		return
	}
	if err := s.services.Comments.Moderate(r.Context(), id, *body.IsApproved); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Message{Message: fmt.Sprintf("Comment %s successfully", body.IsApproved.String())})
}

type bulkRequest struct {
	CommentIDs []int64                `json:"comment_ids"`
	Action     model.ModerationAction `json:"action"`
}

// handleBulkModerateComments only approves or rejects; deletion goes through /moderation/bulk.
func (s *Server) handleBulkModerateComments(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Action != model.ActionApprove && body.Action != model.ActionReject {
		writeError(w, r, common.Invalid("action", "must be approve or reject"))
		return
	}
	res, err := s.services.Moderation.Bulk(r.Context(), body.CommentIDs, body.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ----------------------------------------------------------------------
// Threads
// ----------------------------------------------------------------------

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	var filter model.ThreadFilter
	var err error
	if filter.OwnerID, err = queryInt64(r, "usuario_proprietario_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.services.Threads.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": list})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var in model.ThreadCreate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	th, err := s.services.Threads.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"thread":  th,
		"message": "Thread created successfully",
	})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	th, err := s.services.Threads.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in model.ThreadUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.services.Threads.Update(r.Context(), id, in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Message{Message: "Thread updated successfully"})
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.services.Threads.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Message{Message: "Thread deleted successfully"})
}

func (s *Server) handleThreadStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.services.Threads.Stats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ----------------------------------------------------------------------
// Moderation
// ----------------------------------------------------------------------

func (s *Server) handleModerationQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.services.Moderation.Queue(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleModerationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Moderation.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModerationBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.services.Moderation.Bulk(r.Context(), body.CommentIDs, body.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleModerationSingle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Action model.ModerationAction `json:"action"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.services.Moderation.Moderate(r.Context(), id, body.Action); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    fmt.Sprintf("Comment %d successfully %s", id, body.Action.PastTense()),
		"comment_id": id,
		"action":     body.Action,
	})
}

// ----------------------------------------------------------------------
// Widget
// ----------------------------------------------------------------------

func (s *Server) handleWidgetComments(w http.ResponseWriter, r *http.Request) {
	threadID, err := pathID(r, "thread_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tree, err := s.services.Comments.Tree(r.Context(), threadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleDemoThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.services.Threads.Demo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.services.Widget.Config(r.Context(), r.URL.Query().Get("thread_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateWidgetConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := s.services.Widget.UpdateConfig(r.Context(), r.URL.Query().Get("thread_id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Widget configuration updated successfully",
		"config":  cfg,
	})
}

func (s *Server) handleWidgetThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := s.services.Widget.Themes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"themes": themes})
}

func (s *Server) handleWidgetEmbed(w http.ResponseWriter, r *http.Request) {
	embed, err := s.services.Widget.Embed(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, embed)
}

func (s *Server) handleWidgetPreview(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	preview, err := s.services.Widget.Preview(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
