package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"imagereader/internal/analysis"
	"imagereader/internal/app"
	ircfg "imagereader/internal/config"
	"imagereader/internal/logger"
	"imagereader/internal/prompt"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfgPath := os.Getenv(ircfg.EnvConfigPath)
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := ircfg.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	// 控制台只显示告警，详细日志写入配置的日志文件
	logger.SetOutput(os.Stderr)
	logger.SetLevel("warn")
	if path := strings.TrimSpace(cfg.App.LogPath); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			defer f.Close()
			logger.SetOutput(f)
			logger.SetLevel(cfg.App.LogLevel)
		}
	}

	core, err := app.NewAppBuilder(cfg).BuildCore()
	if err != nil {
		return err
	}
	defer core.Close()

	rl, err := readline.New("image> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()
	fmt.Printf("AI Image Reader (%s). Enter a png/jpg/jpeg path, :prompts or :quit.\n", core.Model.ID())

	state := analysis.NewState()
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			break
		}
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":prompts":
			printPrompts(core.Prompts.Specs())
			continue
		}
		analyzeFile(core, state, line)
	}
	return nil
}

func analyzeFile(core *app.Core, state *analysis.State, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("cannot read file:", err)
		return
	}
	img := analysis.UploadedImage{
		Filename: filepath.Base(path),
		Format:   strings.TrimPrefix(filepath.Ext(path), "."),
		Data:     data,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	fmt.Printf("Analysing %s...\n", img.Filename)
	if _, err := core.Orchestrator.Analyze(analysis.WithSessionID(ctx, "console"), state, img); err != nil {
		if f, ok := analysis.AsFailure(err); ok {
			fmt.Printf("✗ %s\n  %s\n", f.Message(), f.Detail)
			return
		}
		fmt.Println("✗", err)
		return
	}
	printResult(state.Snapshot(), core.Prompts.Specs())
}

func printResult(snap analysis.Snapshot, specs []prompt.Spec) {
	if snap.Result == nil {
		return
	}
	for _, spec := range specs {
		fmt.Println()
		fmt.Printf("== %s ==\n", spec.Title)
		fmt.Println(snap.Result.Text(spec.Label))
	}
	fmt.Printf("\n(%s, %s)\n", snap.Result.Model, snap.Result.Elapsed.Round(time.Millisecond))
}

func printPrompts(specs []prompt.Spec) {
	for _, spec := range specs {
		fmt.Printf("[%s] %s\n  %s\n", spec.Label, spec.Title, spec.Instruction)
	}
}
