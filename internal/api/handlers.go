package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"meetscribe/internal/auth"
	"meetscribe/internal/export"
	"meetscribe/internal/intake"
	"meetscribe/internal/logging"
	"meetscribe/internal/models"
	"meetscribe/internal/pipeline"
	"meetscribe/internal/results"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	mimeText = "text/plain; charset=utf-8"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	multipartMemory = 8 << 20
	multipartSlack  = 1 << 20
)

// Runner drives one upload through the pipeline.
type Runner interface {
	Run(ctx context.Context, src intake.Source) (*pipeline.Result, error)
}

// Submitter schedules work on the bounded worker pool.
type Submitter interface {
	Submit(ctx context.Context, clientKey string, fn func(context.Context)) error
}

type ResultReader interface {
	Get(ctx context.Context, id string) (*models.SummaryResult, error)
}

type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error)
}

type Options struct {
	Pipeline       Runner
	Workers        Submitter
	Results        ResultReader
	Runs           RunLister  // optional
	CSRF           *auth.CSRF // nil disables the check
	Metrics        http.Handler
	MaxUploadBytes int64
	Ready          func(ctx context.Context) error
}

type Handler struct {
	pipeline  Runner
	workers   Submitter
	results   ResultReader
	runs      RunLister
	csrf      *auth.CSRF
	metrics   http.Handler
	maxUpload int64
	ready     func(ctx context.Context) error
	templates *template.Template
}

func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case opts.Workers == nil:
		return nil, errors.New("worker pool is required")
	case opts.Results == nil:
		return nil, errors.New("result store is required")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = intake.DefaultMaxUploadBytes
	}
	return &Handler{
		pipeline:  opts.Pipeline,
		workers:   opts.Workers,
		results:   opts.Results,
		runs:      opts.Runs,
		csrf:      opts.CSRF,
		metrics:   opts.Metrics,
		maxUpload: maxUpload,
		ready:     opts.Ready,
		templates: tmpl,
	}, nil
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.templates)

	router.GET("/", h.index)
	summarize := []gin.HandlerFunc{h.limitUpload}
	if h.csrf != nil {
		summarize = append(summarize, h.csrf.OnFailure(h.csrfFailed).Middleware())
	}
	summarize = append(summarize, h.summarize)
	router.POST("/summarize", summarize...)
	router.GET("/results/:id/download", h.download)

	apiRoutes := router.Group("/api")
	apiRoutes.GET("/results/:id", h.resultJSON)
	apiRoutes.GET("/runs", h.listRuns)

	router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

type indexView struct {
	Error       string
	CSRFField   string
	CSRFToken   string
	MaxUploadMB int64
}

type resultView struct {
	FileName    string
	Summary     *models.StructuredSummary
	DownloadURL string
	DocxURL     string
}

func (h *Handler) index(c *gin.Context) {
	h.renderForm(c, http.StatusOK, "")
}

func (h *Handler) renderForm(c *gin.Context, status int, message string) {
	view := indexView{Error: message, MaxUploadMB: h.maxUpload >> 20}
	if h.csrf != nil {
		token, err := h.csrf.Token(c)
		if err != nil {
			logging.Named("api").Errorw("issue csrf token failed", "error", err)
			c.String(http.StatusInternalServerError, "internal error")
			return
		}
		view.CSRFField = h.csrf.FormField()
		view.CSRFToken = token
	}
	c.HTML(status, "index.html", view)
}

// limitUpload caps the body and parses the form before the csrf check
// reads it, so an oversized upload reports 413 rather than 403.
func (h *Handler) limitUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartSlack)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, models.ErrUploadTooLarge)
		} else {
			h.fail(c, models.ErrInvalidUpload)
		}
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) summarize(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, models.ErrInvalidUpload)
		return
	}

	var (
		res    *pipeline.Result
		runErr error
	)
	err = h.workers.Submit(c.Request.Context(), c.ClientIP(), func(ctx context.Context) {
		res, runErr = h.pipeline.Run(ctx, intake.FromFileHeader(fh))
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	downloadURL := "/results/" + res.ID + "/download?format=txt"
	switch c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) {
	case gin.MIMEJSON:
		c.JSON(http.StatusOK, gin.H{
			"id":           res.ID,
			"file_name":    res.FileName,
			"summary":      res.Summary,
			"download_url": downloadURL,
		})
	default:
		c.HTML(http.StatusOK, "result.html", resultView{
			FileName:    res.FileName,
			Summary:     res.Summary,
			DownloadURL: downloadURL,
			DocxURL:     "/results/" + res.ID + "/download?format=docx",
		})
	}
}

func (h *Handler) csrfFailed(c *gin.Context) {
	h.fail(c, errCSRF)
}

func (h *Handler) fail(c *gin.Context, err error) {
	view := describeError(err)
	if view.status >= http.StatusInternalServerError {
		logging.Named("api").Warnw("summarize request failed",
			"status", view.status, "kind", models.Kind(err), "error", err)
	}
	if c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(view.status, gin.H{"error": view.message})
		return
	}
	h.renderForm(c, view.status, view.message)
}

func (h *Handler) download(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "txt")
	switch format {
	case "txt":
		c.Header("Content-Disposition", attachment(export.FileName(result.FileName, "txt")))
		c.Data(http.StatusOK, mimeText, export.Text(&result.Summary))
	case "docx":
		data, err := export.Docx(&result.Summary, result.FileName)
		if err != nil {
			logging.Named("api").Errorw("render docx failed", "result_id", result.ID, "error", err)
			c.String(http.StatusInternalServerError, "could not render document")
			return
		}
		c.Header("Content-Disposition", attachment(export.FileName(result.FileName, "docx")))
		c.Data(http.StatusOK, mimeDocx, data)
	default:
		c.String(http.StatusBadRequest, "unsupported format %q", format)
	}
}

func (h *Handler) resultJSON(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) lookup(c *gin.Context) (*models.SummaryResult, bool) {
	result, err := h.results.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, results.ErrNotFound) {
		c.String(http.StatusNotFound, "summary not found or expired")
		return nil, false
	}
	if err != nil {
		logging.Named("api").Errorw("load result failed", "result_id", c.Param("id"), "error", err)
		c.String(http.StatusInternalServerError, "could not load summary")
		return nil, false
	}
	return result, true
}

func (h *Handler) listRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []*models.PipelineRun{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	runs, err := h.runs.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		logging.Named("api").Errorw("list runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}
	if runs == nil {
		runs = []*models.PipelineRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) healthz(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func attachment(name string) string {
	return `attachment; filename="` + name + `"`
}
