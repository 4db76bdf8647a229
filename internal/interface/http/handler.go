package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
	"github.com/yanqian/semantic-faq/internal/infra/config"
	apperrors "github.com/yanqian/semantic-faq/pkg/errors"
)

const (
	msgEnterQuery      = "Please enter the query."
	msgNoSimilar       = "No similar questions in the database"
	msgNoAnswer        = "There is no answer to this question in the database"
	msgSearchFailed    = "Failed to search, please try again."
	msgLoadFailed      = "Failed to load data."
	msgSaveFailed      = "Failed to save the uploaded file."
	msgMissingFile     = "Please upload a file."
	msgFileTooLarge    = "The uploaded file is too large."
	msgQueryMissing    = "Please enter the question."
	msgQueryNoSimilar  = "No similar questions."
	msgQueryHeader     = "The most similar questions are:"
	msgQueryFailed     = "Search failed."
	msgQuestionRemoved = "Question removed."
	msgQuestionMissing = "Question not found."
)

// Handler wires the HTTP transport to the FAQ service.
type Handler struct {
	faqSvc         faq.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(cfg *config.Config, faqSvc faq.Service, logger *slog.Logger) *Handler {
	return &Handler{
		faqSvc:         faqSvc,
		maxUploadBytes: cfg.Upload.MaxBytes,
		logger:         logger.With("component", "http.handler"),
	}
}

// statusResponse is the uniform {status, msg} body of the /qa endpoints.
type statusResponse struct {
	Status   bool            `json:"status"`
	Msg      string          `json:"msg"`
	Failures []recordFailure `json:"failures,omitempty"`
}

type recordFailure struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Answer is one ranked candidate of /qa/query.
type Answer struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
	Answer string  `json:"answer"`
}

// QueryResponse is the body of /qa/query.
type QueryResponse struct {
	Question string   `json:"question"`
	Course   string   `json:"course"`
	Lesson   string   `json:"lesson"`
	Code     int      `json:"code"`
	Success  bool     `json:"success"`
	Msg      string   `json:"msg"`
	Data     []Answer `json:"data"`
}

// Load stores an uploaded dataset and ingests it.
func (h *Handler) Load(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, "upload_too_large", msgFileTooLarge, err))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", msgMissingFile, err))
		return
	}
	file, err := header.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, faq.CodeStorageError, msgSaveFailed, err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, faq.CodeStorageError, msgSaveFailed, err))
		return
	}

	report, err := h.faqSvc.Load(c.Request.Context(), header.Filename, data)
	if err != nil {
		message := msgLoadFailed
		if apperrors.IsCode(err, faq.CodeStorageError) {
			message = msgSaveFailed
		}
		abortWithError(c, domainError(err, message))
		return
	}

	resp := statusResponse{Status: report.Status != faq.IngestFailure, Msg: report.Summary()}
	for _, failure := range report.Failures() {
		resp.Failures = append(resp.Failures, recordFailure{Row: failure.Row, Reason: failure.Reason})
	}
	h.logger.Info("dataset loaded", "file", header.Filename, "status", report.Status, "loaded", report.Loaded, "skipped", report.Skipped)
	c.JSON(http.StatusOK, resp)
}

// Search returns the answer of the closest canonical question.
func (h *Handler) Search(c *gin.Context) {
	question := strings.TrimSpace(c.Query("question"))
	if question == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, faq.CodeInvalidInput, msgEnterQuery, nil))
		return
	}
	res, err := h.faqSvc.BestMatch(c.Request.Context(), question)
	if err != nil {
		abortWithError(c, domainError(err, msgSearchFailed))
		return
	}
	best, ok := res.Best()
	if !ok {
		c.JSON(http.StatusOK, statusResponse{Status: false, Msg: msgNoSimilar})
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: true, Msg: best.AnswerText})
}

// Answer looks up the stored answer for an exact canonical question.
func (h *Handler) Answer(c *gin.Context) {
	question := strings.TrimSpace(c.Query("question"))
	if question == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, faq.CodeInvalidInput, msgEnterQuery, nil))
		return
	}
	record, found, err := h.faqSvc.AnswerFor(c.Request.Context(), question)
	if err != nil {
		abortWithError(c, domainError(err, msgSearchFailed))
		return
	}
	if !found {
		c.JSON(http.StatusOK, statusResponse{Status: false, Msg: msgNoAnswer})
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: true, Msg: record.AnswerText})
}

// Query returns the ranked candidates for a question.
func (h *Handler) Query(c *gin.Context) {
	resp := QueryResponse{
		Question: c.Query("question"),
		Course:   c.Query("course"),
		Lesson:   c.Query("lesson"),
		Code:     http.StatusOK,
		Data:     []Answer{},
	}
	if strings.TrimSpace(resp.Question) == "" {
		resp.Code = http.StatusBadRequest
		resp.Msg = msgQueryMissing
		c.JSON(resp.Code, resp)
		return
	}

	res, err := h.faqSvc.Ranked(c.Request.Context(), resp.Question)
	if err != nil {
		httpErr := domainError(err, msgQueryFailed)
		logFailure(h.logger, c, httpErr)
		resp.Code = httpErr.Status
		resp.Msg = httpErr.Message
		c.JSON(resp.Code, resp)
		return
	}
	if res.Outcome == faq.OutcomeNoMatch {
		resp.Msg = msgQueryNoSimilar
		c.JSON(http.StatusOK, resp)
		return
	}

	for _, match := range res.Matches {
		resp.Data = append(resp.Data, Answer{Intent: match.QuestionText, Score: match.Score, Answer: match.AnswerText})
	}
	resp.Success = true
	resp.Msg = msgQueryHeader
	c.JSON(http.StatusOK, resp)
}

// DeleteQuestion removes a canonical question from both stores.
func (h *Handler) DeleteQuestion(c *gin.Context) {
	question := strings.TrimSpace(c.Query("question"))
	if question == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, faq.CodeInvalidInput, msgEnterQuery, nil))
		return
	}
	removed, err := h.faqSvc.Delete(c.Request.Context(), question)
	if err != nil {
		abortWithError(c, domainError(err, msgSearchFailed))
		return
	}
	if !removed {
		abortWithError(c, NewHTTPError(http.StatusNotFound, faq.CodeNotFound, msgQuestionMissing, nil))
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: true, Msg: msgQuestionRemoved})
}

// Stats reports how many canonical questions are stored.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.faqSvc.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, domainError(err, "Failed to read statistics."))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health checks that a store session can be acquired.
func (h *Handler) Health(c *gin.Context) {
	if err := h.faqSvc.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
