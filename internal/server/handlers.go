package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/metrics"
	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/gin-gonic/gin"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

type handler struct {
	datasets Datasets
	engine   *analysis.Engine
	annotate func(ctx context.Context, s equipment.Summary) string
	metrics  *metrics.Metrics
	log      *slog.Logger
	maxBody  int64
	now      func() time.Time
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "Validation Error", Message: msg})
}

func notFound(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "Not Found", Message: msg})
}

// fail maps err onto the error contract: validation 400, missing 404, else 500.
func (h *handler) fail(c *gin.Context, err error) {
	var ve *equipment.ValidationError
	switch {
	case errors.As(err, &ve):
		badRequest(c, ve.Reason)
	case errors.Is(err, store.ErrNotFound):
		notFound(c, "Dataset not found.")
	default:
		h.log.Error("request failed", "path", c.Request.URL.Path, "err", err, "request_id", c.GetString("request_id"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:   "Internal Server Error",
			Message: "An unexpected error occurred.",
		})
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Backend initialized"})
}

func (h *handler) upload(c *gin.Context) {
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody+formOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		h.metrics.Upload("invalid")
		if tooLarge(err) {
			badRequest(c, fmt.Sprintf("File too large. Max size is %dMB.", h.maxBody>>20))
			return
		}
		badRequest(c, "No file provided.")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.metrics.Upload("error")
		h.fail(c, fmt.Errorf("open form file: %w", err))
		return
	}
	defer f.Close()

	d, err := h.datasets.Create(c.Request.Context(), store.Upload{
		Filename: fh.Filename,
		Body:     f,
		Annotate: h.annotate,
	})
	if err != nil {
		if equipment.IsValidation(err) {
			h.metrics.Upload("invalid")
		} else {
			h.metrics.Upload("error")
		}
		h.fail(c, err)
		return
	}
	h.metrics.Upload("stored")
	c.JSON(http.StatusCreated, d)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// parseID reads a dataset id; ok is false once a 400 has been written.
func parseID(c *gin.Context, raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		badRequest(c, "Dataset IDs must be integers.")
		return 0, false
	}
	return id, true
}

// load resolves one dataset; ok is false once an error has been written.
func (h *handler) load(c *gin.Context, id int) (*store.Dataset, bool) {
	d, err := h.datasets.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, fmt.Sprintf("Dataset %d not found.", id))
			return nil, false
		}
		h.fail(c, err)
		return nil, false
	}
	return d, true
}

func (h *handler) summary(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	d, ok := h.load(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d.Summary)
}

// comparePair resolves dataset_a and dataset_b and runs the engine.
func (h *handler) comparePair(c *gin.Context) (*analysis.ComparisonResult, bool) {
	rawA, rawB := c.Query("dataset_a"), c.Query("dataset_b")
	if rawA == "" || rawB == "" {
		badRequest(c, "Both dataset_a and dataset_b are required.")
		return nil, false
	}
	idA, ok := parseID(c, rawA)
	if !ok {
		return nil, false
	}
	idB, ok := parseID(c, rawB)
	if !ok {
		return nil, false
	}
	a, ok := h.load(c, idA)
	if !ok {
		return nil, false
	}
	b, ok := h.load(c, idB)
	if !ok {
		return nil, false
	}

	res := h.engine.Compare(c.Request.Context(), a, b)
	risks := make(map[string]string, len(res.ComparisonStats))
	for m, st := range res.ComparisonStats {
		risks[string(m)] = string(st.RiskLevel)
	}
	h.metrics.Comparison(string(res.StatsStatus), risks)
	if res.StatsStatus == analysis.StatsDegraded {
		h.log.Warn("comparison statistics degraded", "dataset_a", idA, "dataset_b", idB, "issues", res.Issues)
	}
	return res, true
}

func (h *handler) compare(c *gin.Context) {
	res, ok := h.comparePair(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) report(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	d, ok := h.load(c, id)
	if !ok {
		return
	}
	md := analysis.SummaryMarkdown(analysis.ReportMeta{ID: d.ID, Filename: d.Filename, Generated: h.now()}, d.Summary)
	markdown(c, fmt.Sprintf("report_%d.md", d.ID), md)
}

func (h *handler) compareReport(c *gin.Context) {
	res, ok := h.comparePair(c)
	if !ok {
		return
	}
	markdown(c, fmt.Sprintf("comparison_%d_%d.md", res.DatasetA.ID, res.DatasetB.ID), res.Markdown())
}

func markdown(c *gin.Context, filename, body string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(body))
}

func (h *handler) history(c *gin.Context) {
	entries, err := h.datasets.List("")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handler) delete(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	if err := h.datasets.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, fmt.Sprintf("Dataset %d not found.", id))
			return
		}
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
