package webhttp

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"imagereader/internal/analysis"
	"imagereader/internal/logger"
	"imagereader/internal/prompt"
)

const uploadField = "image"

type handler struct {
	cfg ServerConfig
}

// session 读取或创建会话 cookie。
func (h *handler) session(c *gin.Context) (string, *analysis.State) {
	current, _ := c.Cookie(h.cfg.CookieName)
	id, state := h.cfg.Sessions.Ensure(current)
	if id != current {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cfg.CookieName, id, int(h.cfg.SessionTTL.Seconds()), "/", "", false, true)
	}
	return id, state
}

func (h *handler) page(c *gin.Context) {
	id, state := h.session(c)
	c.HTML(http.StatusOK, "index.html", h.buildPage(c, id, state.Snapshot()))
}

func (h *handler) clear(c *gin.Context) {
	_, state := h.session(c)
	state.Reset()
	c.Redirect(http.StatusSeeOther, "/")
}

// analyzeForm handles the browser upload and redirects back to the page.
func (h *handler) analyzeForm(c *gin.Context) {
	id, state := h.session(c)
	img, err := h.readUpload(c)
	if err != nil {
		h.rejectUpload(state, img.Filename, err)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	// 结果或失败都已写入 state，页面从快照渲染
	_, _ = h.cfg.Analyzer.Analyze(analysis.WithSessionID(c.Request.Context(), id), state, img)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) analyzeAPI(c *gin.Context) {
	id, state := h.session(c)
	img, err := h.readUpload(c)
	if err != nil {
		h.rejectUpload(state, img.Filename, err)
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": gin.H{"kind": "upload", "detail": uploadDetail(err)}})
		return
	}
	res, err := h.cfg.Analyzer.Analyze(analysis.WithSessionID(c.Request.Context(), id), state, img)
	if err != nil {
		f, ok := analysis.AsFailure(err)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "detail": err.Error()}})
			return
		}
		c.JSON(failureStatus(f), gin.H{"error": failureJSON(f)})
		return
	}
	c.JSON(http.StatusOK, resultJSON(res, h.cfg.Prompts.Specs()))
}

func (h *handler) sessionAPI(c *gin.Context) {
	_, state := h.session(c)
	snap := state.Snapshot()
	body := gin.H{
		"status":     snap.Status,
		"filename":   snap.Filename,
		"updated_at": snap.UpdatedAt,
	}
	if snap.Result != nil {
		body["result"] = resultJSON(*snap.Result, h.cfg.Prompts.Specs())
	}
	if snap.Failure != nil {
		body["error"] = failureJSON(snap.Failure)
	}
	c.JSON(http.StatusOK, body)
}

// historyAPI only lists the caller's own session.
func (h *handler) historyAPI(c *gin.Context) {
	id, _ := h.session(c)
	if h.cfg.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := h.cfg.RecentLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}
	recs, err := h.cfg.History.RecentForSession(c.Request.Context(), id, limit)
	if err != nil {
		logger.Errorf("load history failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// readUpload pulls the image part out of a size-limited multipart body. The
// declared format comes from the file name extension.
func (h *handler) readUpload(c *gin.Context) (analysis.UploadedImage, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+1<<20)
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return analysis.UploadedImage{}, err
	}
	img := analysis.UploadedImage{
		Filename: filepath.Base(fh.Filename),
		Format:   strings.TrimPrefix(filepath.Ext(fh.Filename), "."),
	}
	if fh.Size > h.cfg.MaxUploadBytes {
		return img, &http.MaxBytesError{Limit: h.cfg.MaxUploadBytes}
	}
	img.Data, err = readPart(fh)
	return img, err
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// rejectUpload surfaces an unreadable upload in the session like any other
// decode failure, so the page shows the error banner.
func (h *handler) rejectUpload(state *analysis.State, filename string, err error) {
	if errors.Is(err, http.ErrMissingFile) {
		return
	}
	logger.Warnf("upload rejected: %v", err)
	ticket := state.Begin(filename)
	state.Fail(ticket, &analysis.Failure{
		Reason: analysis.ReasonDecode,
		Kind:   analysis.KindDecode,
		Detail: uploadDetail(err),
		Err:    err,
	})
}

func uploadDetail(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)
	case errors.Is(err, http.ErrMissingFile):
		return fmt.Sprintf("multipart field %q is missing", uploadField)
	}
	return err.Error()
}

func failureStatus(f *analysis.Failure) int {
	switch f.Kind {
	case analysis.KindDecode:
		return http.StatusUnprocessableEntity
	case analysis.KindModelUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func failureJSON(f *analysis.Failure) gin.H {
	out := gin.H{
		"reason":  f.Reason,
		"kind":    f.Kind,
		"detail":  f.Detail,
		"message": f.Message(),
	}
	if f.Label != "" {
		out["label"] = f.Label
	}
	return out
}

type sectionJSON struct {
	Label prompt.Label `json:"label"`
	Title string       `json:"title"`
	Text  string       `json:"text"`
}

func resultJSON(r analysis.Result, specs []prompt.Spec) gin.H {
	sections := make([]sectionJSON, 0, len(specs))
	for _, spec := range specs {
		sections = append(sections, sectionJSON{Label: spec.Label, Title: spec.Title, Text: r.Text(spec.Label)})
	}
	return gin.H{
		"id":            r.ID,
		"model":         r.Model,
		"source_format": r.SourceFormat,
		"width":         r.Width,
		"height":        r.Height,
		"sections":      sections,
		"created_at":    r.CreatedAt,
		"elapsed_ms":    r.Elapsed.Milliseconds(),
	}
}
