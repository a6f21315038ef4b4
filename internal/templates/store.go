package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/model"
)

// Store holds the campaign templates. Templates are read-only once loaded;
// Reload swaps the whole set atomically.
type Store struct {
	mu        sync.RWMutex
	path      string
	templates map[string]*model.Template
	static    bool
	log       *zap.Logger
}

func NewStore(path string, log *zap.Logger) (*Store, error) {
	s := &Store{path: path, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore serves a fixed set of templates.
func NewStaticStore(tmpls ...*model.Template) *Store {
	s := &Store{templates: map[string]*model.Template{}, static: true, log: zap.NewNop()}
	for _, t := range tmpls {
		s.templates[t.Name] = t
	}
	return s
}

func (s *Store) Get(name string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(name)
	}
	return t, nil
}

func (s *Store) List() []*model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reload re-reads the configuration document. A missing document falls back
// to the built-in defaults; a malformed one is an error and the current set is kept.
func (s *Store) Reload() error {
	loaded, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.templates = loaded
	s.mu.Unlock()
	s.log.Info("campaign templates loaded", zap.Int("count", len(loaded)), zap.String("path", s.path))
	return nil
}

func (s *Store) load() (map[string]*model.Template, error) {
	if s.static {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return maps.Clone(s.templates), nil
	}
	if s.path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("templates file not found, using built-in defaults", zap.String("path", s.path))
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", s.path, err)
	}
	return Parse(data)
}

type stepDoc struct {
	Delay      string   `yaml:"delay"`
	DelayDays  int      `yaml:"delay_days"`
	DelayHours int      `yaml:"delay_hours"`
	Channel    string   `yaml:"channel"`
	Type       string   `yaml:"type"`
	TemplateID string   `yaml:"template_id"`
	Template   string   `yaml:"template"`
	Subject    string   `yaml:"subject"`
	Content    string   `yaml:"content"`
	DataKeys   []string `yaml:"data_keys"`
}

type templateDoc struct {
	Name  string    `yaml:"name"`
	Steps []stepDoc `yaml:"steps"`
}

// Parse decodes a template document: a mapping of template name to its
// ordered steps. JSON documents are accepted as well.
func Parse(data []byte) (map[string]*model.Template, error) {
	var doc map[string]templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("templates: decode: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("templates: document defines no templates")
	}

	out := make(map[string]*model.Template, len(doc))
	for name, td := range doc {
		if len(td.Steps) == 0 {
			return nil, fmt.Errorf("templates: %s: no steps", name)
		}
		steps := make([]model.Step, 0, len(td.Steps))
		for i, sd := range td.Steps {
			step, err := sd.toStep()
			if err != nil {
				return nil, fmt.Errorf("templates: %s step %d: %w", name, i, err)
			}
			steps = append(steps, step)
		}
		out[name] = &model.Template{
			Name:        name,
			DisplayName: td.Name,
			Version:     model.Fingerprint(steps),
			Steps:       steps,
		}
	}
	return out, nil
}

func (sd stepDoc) toStep() (model.Step, error) {
	ch := model.Channel(strings.ToLower(firstNonEmpty(sd.Channel, sd.Type)))
	if !ch.Valid() {
		return model.Step{}, fmt.Errorf("unknown channel %q", firstNonEmpty(sd.Channel, sd.Type))
	}

	delay := time.Duration(sd.DelayDays)*24*time.Hour + time.Duration(sd.DelayHours)*time.Hour
	if sd.Delay != "" {
		d, err := ParseDelay(sd.Delay)
		if err != nil {
			return model.Step{}, err
		}
		delay = d
	}
	if delay < 0 {
		return model.Step{}, fmt.Errorf("negative delay %s", delay)
	}

	return model.Step{
		Delay:      delay,
		Channel:    ch,
		TemplateID: firstNonEmpty(sd.TemplateID, sd.Template),
		Subject:    sd.Subject,
		Content:    sd.Content,
		DataKeys:   sd.DataKeys,
	}, nil
}

// ParseDelay accepts Go durations plus a day suffix, e.g. "3d" or "36h".
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid delay %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
