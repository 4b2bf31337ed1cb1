package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	ircfg "imagereader/internal/config"
	"imagereader/internal/pkg/text"
	"imagereader/internal/prompt"
)

type StartupSummary struct {
	Model    ModelSummary
	HTTPAddr string
	Parallel bool
	Image    ircfg.ImageConfig
	History  string
	Reload   bool
	Prompts  []prompt.Spec
	Out      io.Writer
}

type ModelSummary struct {
	ID      string
	APIURL  string
	Timeout string
	Breaker string
}

func newStartupSummary(cfg *ircfg.Config, core *Core) *StartupSummary {
	breaker := "off"
	if cfg.Model.BreakerThreshold > 0 {
		breaker = fmt.Sprintf("%d failures / %s cooldown", cfg.Model.BreakerThreshold, cfg.Model.BreakerCooldown())
	}
	hist := "off"
	if cfg.History.Enabled() {
		hist = cfg.History.Path
	}
	return &StartupSummary{
		Model: ModelSummary{
			ID:      core.Model.ID(),
			APIURL:  cfg.Model.APIURL,
			Timeout: cfg.Model.Timeout().String(),
			Breaker: breaker,
		},
		HTTPAddr: cfg.App.HTTPAddr,
		Parallel: cfg.Analysis.Parallel,
		Image:    cfg.Image,
		History:  hist,
		Reload:   core.Prompts.Watching(),
		Prompts:  core.Prompts.Specs(),
	}
}

func (s *StartupSummary) Print() {
	w := s.Out
	if w == nil {
		w = os.Stdout
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[模型 (MODEL)]")
	fmt.Fprintf(w, "  模型: %s\n", s.Model.ID)
	fmt.Fprintf(w, "  地址: %s\n", s.Model.APIURL)
	fmt.Fprintf(w, "  超时: %s\n", s.Model.Timeout)
	fmt.Fprintf(w, "  熔断: %s\n", s.Model.Breaker)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  监听: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  并行调用: %t\n", s.Parallel)
	fmt.Fprintf(w, "  最大边长: %s\n", formatDimension(s.Image.MaxDimension))
	fmt.Fprintf(w, "  EXIF 方向校正: %t\n", s.Image.AutoOrient)
	fmt.Fprintf(w, "  历史记录: %s\n", s.History)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[提示词 (PROMPTS)]")
	fmt.Fprintf(w, "  热加载: %t\n", s.Reload)
	for _, spec := range s.Prompts {
		preview := text.Truncate(text.OneLine(spec.Instruction), 70)
		fmt.Fprintf(w, "  > %s (%s): %s\n", spec.Label, spec.Title, preview)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatDimension(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dpx", n)
}
