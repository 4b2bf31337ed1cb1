package webhttp

import (
	"html/template"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"imagereader/internal/analysis"
	"imagereader/internal/logger"
	"imagereader/internal/prompt"
	"imagereader/internal/render"
	"imagereader/internal/store/history"
)

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("01-02 15:04:05")
	},
	"formatMillis": func(ms int64) string {
		if ms <= 0 {
			return "-"
		}
		return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
	},
	"toUpper": strings.ToUpper,
}

type sectionView struct {
	Label prompt.Label
	Title string
	Body  template.HTML
}

type errorView struct {
	Kind    string
	Label   string
	Message string
	Detail  string
}

type pageView struct {
	Model       string
	Status      analysis.Status
	Filename    string
	Preview     template.URL
	Sections    []sectionView
	Error       *errorView
	Elapsed     time.Duration
	MaxUploadMB int64
	History     []history.Record
}

func (h *handler) buildPage(c *gin.Context, sessionID string, snap analysis.Snapshot) pageView {
	view := pageView{
		Model:       h.cfg.Model,
		Status:      snap.Status,
		Filename:    snap.Filename,
		MaxUploadMB: h.cfg.MaxUploadBytes >> 20,
	}
	// 预览只接受本服务生成的 png data URI
	if strings.HasPrefix(snap.Preview, "data:image/png;base64,") {
		view.Preview = template.URL(snap.Preview)
	}
	if snap.Result != nil {
		view.Elapsed = snap.Result.Elapsed
		for _, spec := range h.cfg.Prompts.Specs() {
			view.Sections = append(view.Sections, sectionView{
				Label: spec.Label,
				Title: spec.Title,
				Body:  renderText(spec.Label, snap.Result.Text(spec.Label)),
			})
		}
	}
	if f := snap.Failure; f != nil {
		view.Error = &errorView{Kind: string(f.Kind), Label: string(f.Label), Message: f.Message(), Detail: f.Detail}
	}
	if h.cfg.History != nil {
		recs, err := h.cfg.History.RecentForSession(c.Request.Context(), sessionID, 5)
		if err != nil {
			logger.Warnf("load history for page failed: %v", err)
		}
		view.History = recs
	}
	return view
}

// extracted text keeps its line layout, the other two get list formatting
func renderText(label prompt.Label, text string) template.HTML {
	if label == prompt.LabelExtract {
		return render.Preformatted(text)
	}
	return render.HTML(text)
}
