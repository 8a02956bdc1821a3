package endpoints

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyglass/storyglass/internal/api"
	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/metrics"
)

// ChapterProgress is the status projection of one chapter job.
type ChapterProgress struct {
	Ordinal     int        `json:"ordinal"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// WorkStatusResponse is the per-work status projection including costs.
type WorkStatusResponse struct {
	WorkID   string               `json:"work_id"`
	Overall  string               `json:"overall"`
	Chapters []ChapterProgress    `json:"chapters"`
	Costs    *metrics.WorkSummary `json:"costs,omitempty"`
}

// WorkStatusEndpoint handles GET /works/{id}/status.
type WorkStatusEndpoint struct {
	cfg Config
}

var _ api.Endpoint = (*WorkStatusEndpoint)(nil)

func (e *WorkStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/works/{id}/status", e.handler
}

func (e *WorkStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	workID := r.PathValue("id")

	ws, err := e.cfg.Scheduler.Status(r.Context(), workID)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	resp := WorkStatusResponse{WorkID: workID, Overall: string(ws.Status)}
	for _, j := range ws.Jobs {
		resp.Chapters = append(resp.Chapters, ChapterProgress{
			Ordinal:     j.Ordinal,
			Status:      string(j.Status),
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
			Error:       j.LastError,
		})
	}
	sort.Slice(resp.Chapters, func(i, k int) bool {
		return resp.Chapters[i].Ordinal < resp.Chapters[k].Ordinal
	})

	if e.cfg.Metrics != nil {
		costs, err := e.cfg.Metrics.Summary(r.Context(), workID)
		if err != nil {
			e.cfg.logger().Warn("cost summary unavailable", "work", workID, "error", err)
		} else if costs.TotalCalls > 0 {
			resp.Costs = costs
		}
	}

	api.WriteSuccess(w, http.StatusOK, resp)
}

func (e *WorkStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <work-id>",
		Short: "Show chapter-by-chapter processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp WorkStatusResponse
			if err := client.Get(cmd.Context(), "/works/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RetryResponse confirms a requeued chapter.
type RetryResponse struct {
	WorkID  string `json:"work_id"`
	Ordinal int    `json:"ordinal"`
	Status  string `json:"status"`
}

// RetryChapterEndpoint handles POST /works/{id}/chapters/{ordinal}/retry.
// Only failed chapters can be retried.
type RetryChapterEndpoint struct {
	cfg Config
}

var _ api.Endpoint = (*RetryChapterEndpoint)(nil)

func (e *RetryChapterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/works/{id}/chapters/{ordinal}/retry", e.handler
}

func (e *RetryChapterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	workID := r.PathValue("id")
	ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
	if err != nil || ordinal < 1 {
		api.WriteError(w, &apperr.Error{
			Code:    apperr.CodeValidation,
			Message: fmt.Sprintf("ordinal %q must be a positive integer", r.PathValue("ordinal")),
		})
		return
	}

	if err := e.cfg.Scheduler.Retry(r.Context(), workID, ordinal); err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteSuccess(w, http.StatusAccepted, RetryResponse{WorkID: workID, Ordinal: ordinal, Status: "queued"})
}

func (e *RetryChapterEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <work-id> <ordinal>",
		Short: "Requeue a failed chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RetryResponse
			path := "/works/" + args[0] + "/chapters/" + args[1] + "/retry"
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
