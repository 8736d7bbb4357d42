package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"imagevariants/internal/archive"
	"imagevariants/internal/batch"
	"imagevariants/internal/imagefile"
	"imagevariants/internal/task"
)

const (
	defaultMaxUploadBytes = 10 << 20
	// room for the prompt fields and multipart framing around the image
	formOverheadBytes = 1 << 20
)

var errTooLarge = errors.New("upload too large")

type createBatchForm struct {
	Prompts     []string `form:"prompts"`
	PromptsText string   `form:"prompts_text"`
	Strategy    string   `form:"strategy" binding:"omitempty,oneof=concurrent sequential"`
}

type imageInfo struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

type taskResponse struct {
	Index    int                   `json:"index"`
	Prompt   string                `json:"prompt"`
	State    task.State            `json:"state"`
	ImageURL string                `json:"image_url,omitempty"`
	Error    *task.ClassifiedError `json:"error,omitempty"`
}

type batchResponse struct {
	ID         string         `json:"id"`
	Status     batch.Status   `json:"status"`
	Strategy   task.Strategy  `json:"strategy"`
	CreatedAt  string         `json:"created_at"`
	Image      imageInfo      `json:"image"`
	Summary    task.Summary   `json:"summary"`
	Tasks      []taskResponse `json:"tasks"`
	ArchiveURL string         `json:"archive_url,omitempty"`
}

type batchListItem struct {
	ID        string       `json:"id"`
	Status    batch.Status `json:"status"`
	CreatedAt string       `json:"created_at"`
	Summary   task.Summary `json:"summary"`
}

// Options limits what clients may upload.
type Options struct {
	MaxUploadBytes   int64
	AllowedMIMETypes []string
}

type API struct {
	manager          *batch.Manager
	maxUploadBytes   int64
	allowedMIMETypes []string
}

func NewAPI(manager *batch.Manager, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(opts.AllowedMIMETypes) == 0 {
		opts.AllowedMIMETypes = imagefile.DefaultAllowedTypes
	}
	return &API{
		manager:          manager,
		maxUploadBytes:   opts.MaxUploadBytes,
		allowedMIMETypes: opts.AllowedMIMETypes,
	}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/batches", a.CreateBatch)
		api.GET("/batches", a.ListBatches)
		api.GET("/batches/:id", a.GetBatch)
		api.GET("/batches/:id/events", a.StreamEvents)
		api.GET("/batches/:id/tasks/:index/image", a.TaskImage)
		api.GET("/batches/:id/archive", a.DownloadArchive)
	}
}

// CreateBatch accepts a multipart upload with one image and a list of prompts
// and starts generating one variation per prompt.
func (a *API) CreateBatch(c *gin.Context) {
	if a.manager.IsBusy() {
		log.Warn().Msg("rejecting batch creation: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	run, err := a.startBatch(c)
	if err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Int("status", status).Msg("failed to create batch")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, a.toBatchResponse(run, run.Results.Snapshot()))
}

// ListBatches returns known batches, newest first.
func (a *API) ListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": a.listItems()})
}

// GetBatch returns the current snapshot of a batch
func (a *API) GetBatch(c *gin.Context) {
	run, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.toBatchResponse(run, run.Results.Snapshot()))
}

// StreamEvents streams task completions as server-sent events: one snapshot
// event, a task event per settled task, then done with the final summary.
func (a *API) StreamEvents(c *gin.Context) {
	run, ok := a.lookup(c)
	if !ok {
		return
	}
	sub := run.Results.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", a.toBatchResponse(run, sub.Snapshot))
	c.Writer.Flush()

	batchID := run.Batch.ID
	c.Stream(func(io.Writer) bool {
		select {
		case ev, open := <-sub.Events:
			if !open {
				c.SSEvent("done", run.Results.Summary())
				return false
			}
			c.SSEvent("task", toTaskResponse(batchID, ev.Task))
			return true
		case <-c.Request.Context().Done():
			log.Debug().Str("batch_id", batchID).Msg("event stream client went away")
			return false
		}
	})
}

// TaskImage serves the generated image of a succeeded task.
func (a *API) TaskImage(c *gin.Context) {
	run, ok := a.lookup(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task index"})
		return
	}
	t, ok := run.Results.Get(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": batch.ErrTaskNotFound.Error()})
		return
	}
	if t.State != task.StateSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "task has no image", "state": t.State})
		return
	}
	data, err := archive.DecodeImage(t.Image)
	if err != nil {
		log.Error().Err(err).Str("batch_id", run.Batch.ID).Int("index", index).Msg("stored image is not decodable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image unavailable"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// DownloadArchive packages the batch's successful images and serves the zip.
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	exp, err := a.manager.Export(id)
	if err != nil {
		status := statusFor(err)
		log.Warn().Str("batch_id", id).Err(err).Int("status", status).Msg("archive not available")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("batch_id", id).Str("path", exp.ArchivePath).Int("files", exp.Summary.Succeeded).Msg("serving archive download")
	c.FileAttachment(exp.ArchivePath, "variations-"+id+".zip")
}

func (a *API) lookup(c *gin.Context) (*batch.Run, bool) {
	id := c.Param("id")
	run, ok := a.manager.Get(id)
	if !ok {
		log.Warn().Str("batch_id", id).Str("path", c.FullPath()).Msg("batch not found")
		c.JSON(http.StatusNotFound, gin.H{"error": batch.ErrBatchNotFound.Error()})
		return nil, false
	}
	return run, true
}

// startBatch reads the multipart form shared by the JSON API and the HTML UI.
func (a *API) startBatch(c *gin.Context) (*batch.Run, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes+formOverheadBytes)

	var form createBatchForm
	if err := c.ShouldBind(&form); err != nil {
		if isTooLarge(err) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("%w: %v", task.ErrInvalidInput, err)
	}
	img, err := a.readImage(c)
	if err != nil {
		return nil, err
	}
	prompts := slices.Concat(form.Prompts, strings.Split(form.PromptsText, "\n"))
	return a.manager.Start(img, prompts, task.Strategy(form.Strategy))
}

func (a *API) readImage(c *gin.Context) (*imagefile.File, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("%w: missing image", task.ErrInvalidInput)
	}
	if fh.Size > a.maxUploadBytes {
		return nil, errTooLarge
	}
	data, err := readFormFile(fh)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	declared := fh.Header.Get("Content-Type")
	if declared == "application/octet-stream" {
		declared = ""
	}
	return imagefile.New(fh.Filename, declared, data, a.allowedMIMETypes)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, batch.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, batch.ErrBatchNotFound), errors.Is(err, batch.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrNoContent):
		return http.StatusConflict
	case errors.Is(err, task.ErrInvalidInput),
		errors.Is(err, imagefile.ErrEmpty),
		errors.Is(err, imagefile.ErrUnsupportedType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) toBatchResponse(run *batch.Run, tasks []task.Task) batchResponse {
	b := run.Batch
	resp := batchResponse{
		ID:        b.ID,
		Status:    run.Status(),
		Strategy:  b.Strategy,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
		Image:     imageInfo{Name: b.Image.Name, MIMEType: b.Image.MIMEType, Size: len(b.Image.Data)},
		Summary:   task.Summarize(tasks),
		Tasks: lo.Map(tasks, func(t task.Task, _ int) taskResponse {
			return toTaskResponse(b.ID, t)
		}),
	}
	// partial archives are allowed while the batch is still running
	if resp.Summary.Succeeded > 0 {
		resp.ArchiveURL = "/api/v1/batches/" + b.ID + "/archive"
	}
	return resp
}

func (a *API) listItems() []batchListItem {
	return lo.Map(a.manager.List(), func(run *batch.Run, _ int) batchListItem { return toListItem(run) })
}

func toListItem(run *batch.Run) batchListItem {
	return batchListItem{
		ID:        run.Batch.ID,
		Status:    run.Status(),
		CreatedAt: run.Batch.CreatedAt.UTC().Format(time.RFC3339),
		Summary:   run.Results.Summary(),
	}
}

func toTaskResponse(batchID string, t task.Task) taskResponse {
	resp := taskResponse{Index: t.Index, Prompt: t.Prompt, State: t.State, Error: t.Error}
	if t.State == task.StateSucceeded {
		resp.ImageURL = fmt.Sprintf("/api/v1/batches/%s/tasks/%d/image", batchID, t.Index)
	}
	return resp
}
