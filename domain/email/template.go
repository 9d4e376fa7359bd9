package email

import (
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aymerick/raymond"

	"github.com/banterhq/banter/pkg/logger"
)

//go:embed templates/*.hbs
var templateFS embed.FS

// TemplateService renders email subjects and bodies from the embedded
// Handlebars templates. Each template name maps to three files under
// templates/: <name>.subject.hbs, <name>.html.hbs, and <name>.text.hbs.
// Parsed templates are cached per name.
type TemplateService struct {
	log *slog.Logger

	mu    sync.RWMutex
	cache map[string]*templateSet
}

type templateSet struct {
	subject *raymond.Template
	html    *raymond.Template
	text    *raymond.Template
}

// Rendered is the output of one template render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// NewTemplateService creates a new template service
func NewTemplateService(log *slog.Logger) *TemplateService {
	return &TemplateService{
		log:   log.With(logger.Scope("email.template")),
		cache: make(map[string]*templateSet),
	}
}

// Render renders template name with ctx. An unknown template name is an
// error; callers treat it as permanent since a template missing from the
// binary cannot appear on a retry.
func (ts *TemplateService) Render(name string, ctx map[string]any) (Rendered, error) {
	set, err := ts.load(name)
	if err != nil {
		return Rendered{}, err
	}
	if ctx == nil {
		ctx = map[string]any{}
	}

	subject, err := set.subject.Exec(ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	html, err := set.html.Exec(ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s html: %w", name, err)
	}
	text, err := set.text.Exec(ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s text: %w", name, err)
	}

	return Rendered{
		Subject: strings.TrimSpace(subject),
		HTML:    html,
		Text:    text,
	}, nil
}

func (ts *TemplateService) load(name string) (*templateSet, error) {
	ts.mu.RLock()
	set, ok := ts.cache[name]
	ts.mu.RUnlock()
	if ok {
		return set, nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if set, ok := ts.cache[name]; ok {
		return set, nil
	}

	subject, err := ts.parse(name, "subject")
	if err != nil {
		return nil, err
	}
	html, err := ts.parse(name, "html")
	if err != nil {
		return nil, err
	}
	text, err := ts.parse(name, "text")
	if err != nil {
		return nil, err
	}

	set = &templateSet{subject: subject, html: html, text: text}
	ts.cache[name] = set
	ts.log.Debug("template loaded", slog.String("name", name))
	return set, nil
}

func (ts *TemplateService) parse(name, part string) (*raymond.Template, error) {
	path := fmt.Sprintf("templates/%s.%s.hbs", name, part)
	content, err := templateFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	tmpl, err := raymond.Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tmpl, nil
}
