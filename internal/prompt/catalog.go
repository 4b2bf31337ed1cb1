// Package prompt holds the three fixed analysis prompts and their optional
// file overrides.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"imagereader/internal/logger"
)

type Label string

const (
	LabelDescribe  Label = "describe"
	LabelExtract   Label = "extract"
	LabelSummarize Label = "summarize"
)

// Labels is the fixed analysis order.
var Labels = []Label{LabelDescribe, LabelExtract, LabelSummarize}

func (l Label) Valid() bool {
	switch l {
	case LabelDescribe, LabelExtract, LabelSummarize:
		return true
	}
	return false
}

// Spec is one {label, instruction} pair plus the heading shown above its result.
type Spec struct {
	Label       Label  `json:"label"`
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
}

// Defaults returns the built-in prompts in analysis order.
func Defaults() []Spec {
	return []Spec{
		{
			Label: LabelDescribe,
			Title: "Image Description",
			Instruction: "Describe this image in detail. List all visible objects, people, text, and the scene context. " +
				"Be precise and avoid assumptions. Use bullet points if possible.",
		},
		{
			Label: LabelExtract,
			Title: "Text Extraction",
			Instruction: "Extract all visible text from this image as accurately as possible. " +
				"Preserve line breaks and formatting. Return only the extracted text.",
		},
		{
			Label: LabelSummarize,
			Title: "Text Summarization",
			Instruction: "Extract all text from this image, then summarize the main points in 3-4 concise bullet points. " +
				"Focus on the most important information. Return only the bullet points.",
		},
	}
}

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Specs    []Spec
}

// Get returns the spec for label.
func (s Snapshot) Get(label Label) (Spec, bool) {
	for _, spec := range s.Specs {
		if spec.Label == label {
			return spec, true
		}
	}
	return Spec{}, false
}

type ChangeListener func(Snapshot)

// Catalog serves the current prompt snapshot. With a file it reloads on
// change; a bad edit is logged and the previous snapshot stays active.
type Catalog struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewStatic returns a catalog of the built-in prompts.
func NewStatic() *Catalog {
	return &Catalog{snapshot: Snapshot{Version: 1, LoadedAt: time.Now(), Specs: Defaults()}}
}

// Open loads overrides from path; an empty path yields NewStatic.
func Open(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewStatic(), nil
	}
	specs, err := readOverrides(path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{path: path, snapshot: Snapshot{Version: 1, LoadedAt: time.Now(), Specs: specs}}
	return c, nil
}

// Watch starts hot reload of the override file. No-op for static catalogs.
func (c *Catalog) Watch() error {
	if c.path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(c.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch prompt file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.Reload(); err != nil {
			logger.Errorf("prompt reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
	return nil
}

// Watching reports whether hot reload is active.
func (c *Catalog) Watching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v != nil
}

// Reload re-reads the override file and notifies listeners.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	specs, err := readOverrides(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshot = Snapshot{Version: c.snapshot.Version + 1, LoadedAt: time.Now(), Specs: specs}
	snap := cloneSnapshot(c.snapshot)
	listeners := append([]ChangeListener(nil), c.listeners...)
	c.mu.Unlock()
	logger.Infof("prompt catalog reloaded from %s (version %d)", filepath.Base(c.path), snap.Version)
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneSnapshot(c.snapshot)
}

// Specs returns the prompts in analysis order.
func (c *Catalog) Specs() []Spec {
	return c.Snapshot().Specs
}

// Subscribe registers fn for future reloads.
func (c *Catalog) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Specs = append([]Spec(nil), s.Specs...)
	return out
}

type overrideEntry struct {
	Title       string `yaml:"title"`
	Instruction string `yaml:"instruction"`
}

type overrideFile struct {
	Prompts map[string]overrideEntry `yaml:"prompts"`
}

const overrideSchema = `{
  "type": "object",
  "required": ["prompts"],
  "additionalProperties": false,
  "properties": {
    "prompts": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "describe":  {"$ref": "#/$defs/entry"},
        "extract":   {"$ref": "#/$defs/entry"},
        "summarize": {"$ref": "#/$defs/entry"}
      }
    }
  },
  "$defs": {
    "entry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "title":       {"type": "string", "minLength": 1},
        "instruction": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("prompts.json", strings.NewReader(overrideSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("prompts.json")
	})
	return schema, schemaErr
}

// readOverrides validates the file and merges it over the defaults. Only the
// text of the three fixed labels can change, never their set or order.
func readOverrides(path string) ([]Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file failed: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse prompt file failed: %w", err)
	}
	// round-trip through JSON so the validator sees plain JSON values
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("parse prompt file failed: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt file failed: %w", err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("prompt schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid prompt file %s: %w", filepath.Base(path), err)
	}

	var file overrideFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse prompt file failed: %w", err)
	}
	specs := Defaults()
	for i := range specs {
		o, ok := file.Prompts[string(specs[i].Label)]
		if !ok {
			continue
		}
		if t := strings.TrimSpace(o.Title); t != "" {
			specs[i].Title = t
		}
		if ins := strings.TrimSpace(o.Instruction); ins != "" {
			specs[i].Instruction = ins
		}
	}
	return specs, nil
}
