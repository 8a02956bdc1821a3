package endpoints

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storyglass/storyglass/internal/api"
	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/ingest"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/store"
)

// CreateWorkRequest is the JSON body for POST /works. FileBytes is
// base64-encoded in transit.
type CreateWorkRequest struct {
	FileBytes   []byte `json:"file_bytes"`
	Filename    string `json:"filename"`
	UserID      string `json:"user_id,omitempty"`
	Title       string `json:"title,omitempty"`
	StylePreset string `json:"style_preset,omitempty"`
	CustomStyle string `json:"custom_style,omitempty"`
}

// CreateWorkResponse is returned once the work is persisted and its chapter
// jobs are queued.
type CreateWorkResponse struct {
	WorkID          string   `json:"work_id"`
	ChapterIDs      []string `json:"chapter_ids"`
	SchedulerStatus string   `json:"scheduler_status"`
}

// CreateWorkEndpoint handles POST /works. It accepts either a JSON body or a
// multipart form with a "file" part.
type CreateWorkEndpoint struct {
	cfg Config
}

var _ api.Endpoint = (*CreateWorkEndpoint)(nil)

func (e *CreateWorkEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/works", e.handler
}

func (e *CreateWorkEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = parseMultipartWork(r)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			err = &apperr.Error{Code: apperr.CodeValidation, Message: "malformed JSON body", Cause: err}
		}
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}

	res, err := e.cfg.Ingest.Ingest(r.Context(), ingest.Request{
		Filename:    req.Filename,
		Data:        req.FileBytes,
		Title:       req.Title,
		StylePreset: req.StylePreset,
		CustomStyle: req.CustomStyle,
	})
	if err != nil {
		api.WriteError(w, err)
		return
	}

	jobs, err := e.cfg.Scheduler.IngestWork(r.Context(), res.Work, res.Chapters)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	e.cfg.logger().Info("work accepted",
		"work", res.Work.ID, "chapters", len(res.Chapters), "user", req.UserID)

	resp := CreateWorkResponse{WorkID: res.Work.ID, SchedulerStatus: "queued"}
	for _, c := range res.Chapters {
		resp.ChapterIDs = append(resp.ChapterIDs, c.ID)
	}
	if len(jobs) == 0 {
		resp.SchedulerStatus = "empty"
	}
	api.WriteSuccess(w, http.StatusAccepted, resp)
}

// parseMultipartWork reads the "file" part plus optional string fields.
func parseMultipartWork(r *http.Request) (CreateWorkRequest, error) {
	const maxMemory = 64 << 20
	var req CreateWorkRequest

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return req, &apperr.Error{Code: apperr.CodeValidation, Message: "failed to parse form", Cause: err}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return req, apperr.EmptyInput("file upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, &apperr.Error{Code: apperr.CodeValidation, Message: "failed to read upload", Cause: err}
	}

	req.FileBytes = data
	req.Filename = header.Filename
	req.UserID = r.FormValue("user_id")
	req.Title = r.FormValue("title")
	req.StylePreset = r.FormValue("style_preset")
	req.CustomStyle = r.FormValue("custom_style")
	return req, nil
}

func (e *CreateWorkEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title, style, customStyle, userID string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Upload a document and start processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp CreateWorkResponse
			err = client.Post(cmd.Context(), "/works", CreateWorkRequest{
				FileBytes:   data,
				Filename:    filepath.Base(args[0]),
				UserID:      userID,
				Title:       title,
				StylePreset: style,
				CustomStyle: customStyle,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Work title (derived from filename if not provided)")
	cmd.Flags().StringVar(&style, "style", "", "Style preset for image generation")
	cmd.Flags().StringVar(&customStyle, "custom-style", "", "Freeform style description")
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	return cmd
}

// ListWorksEndpoint handles GET /works.
type ListWorksEndpoint struct {
	cfg Config
}

var _ api.Endpoint = (*ListWorksEndpoint)(nil)

func (e *ListWorksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/works", e.handler
}

func (e *ListWorksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkFilter{}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = model.WorkStatus(s)
	}
	works, err := e.cfg.Store.Works().List(r.Context(), filter)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if works == nil {
		works = []model.Work{}
	}
	api.WriteSuccess(w, http.StatusOK, works)
}

func (e *ListWorksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested works",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/works"
			if status != "" {
				path += "?status=" + status
			}
			client := api.NewClient(getServerURL())
			var resp []model.Work
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by work status (pending, in-progress, completed, failed)")
	return cmd
}
