// Package extract runs the two model calls that turn a trade publication
// into an import batch: project extraction and contact indexing.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/gridline/internal/cache"
	"github.com/foxzi/gridline/internal/llm"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/prompt"
)

// Progress stages reported while a run is in flight
const (
	StageExtracting = "extracting projects and contacts"
	StageProjects   = "extracting projects"
	StageContacts   = "indexing contacts"
	StageSaving     = "saving"
)

const (
	callProjects = "projects"
	callContacts = "contacts"
)

var (
	// ErrNoText is returned when there is no PDF text to work on
	ErrNoText = errors.New("no PDF text to extract from")
	// ErrInvalidResponse is returned when a model answer is not the expected JSON
	ErrInvalidResponse = errors.New("invalid model response")
)

// Input is everything one run needs
type Input struct {
	PDFText    string
	TargetList string
	IssueDate  string // DD/MM/YYYY, today when empty
	FileName   string
}

// StageFunc receives progress updates. It may be called from several goroutines.
type StageFunc func(stage string)

// Saver persists finished batches
type Saver interface {
	Add(ctx context.Context, batch *models.Batch) error
}

// Config wires an Extractor
type Config struct {
	Generator llm.Generator
	Prompts   prompt.Set
	Cache     cache.Cache // optional
	Saver     Saver       // optional, batches are not stored when nil
	Logger    *slog.Logger
}

// Extractor runs extraction jobs
type Extractor struct {
	gen            llm.Generator
	prompts        prompt.Set
	cache          cache.Cache
	saver          Saver
	logger         *slog.Logger
	projectsSchema *gojsonschema.Schema
	contactsSchema *gojsonschema.Schema
	now            func() time.Time
}

// New creates an Extractor
func New(cfg Config) (*Extractor, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompts.Projects == "" || cfg.Prompts.Contacts == "" {
		cfg.Prompts = prompt.Default()
	}

	projectsSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(prompt.ProjectsSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile projects schema: %w", err)
	}
	contactsSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(prompt.ContactsSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile contacts schema: %w", err)
	}

	return &Extractor{
		gen:            cfg.Generator,
		prompts:        cfg.Prompts,
		cache:          cfg.Cache,
		saver:          cfg.Saver,
		logger:         cfg.Logger.With("component", "extract"),
		projectsSchema: projectsSchema,
		contactsSchema: contactsSchema,
		now:            time.Now,
	}, nil
}

// Run extracts projects and contacts in parallel and stores the batch.
// Either call failing fails the whole run.
func (e *Extractor) Run(ctx context.Context, in Input, onStage StageFunc) (*models.Batch, error) {
	if strings.TrimSpace(in.PDFText) == "" {
		return nil, ErrNoText
	}
	if onStage == nil {
		onStage = func(string) {}
	}
	if in.IssueDate == "" {
		in.IssueDate = models.FormatIssueDate(e.now().UTC())
	}

	start := time.Now()
	e.logger.Info("extraction started",
		"file", in.FileName,
		"issue_date", in.IssueDate,
		"generator", e.gen.Name(),
		"text_bytes", len(in.PDFText))

	var (
		projects []models.Project
		contacts models.ContactDictionary
		mu       sync.Mutex
		finished int
	)

	// the stage names the call still outstanding: when the first call
	// returns, the other one's stage is reported
	done := func(next string) {
		mu.Lock()
		defer mu.Unlock()
		finished++
		if finished == 1 {
			onStage(next)
		}
	}

	onStage(StageExtracting)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		projects, err = e.extractProjects(gctx, in)
		if err == nil {
			done(StageContacts)
		}
		return err
	})
	g.Go(func() error {
		var err error
		contacts, err = e.indexContacts(gctx, in)
		if err == nil {
			done(StageProjects)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		result := "failed"
		if errors.Is(err, ErrInvalidResponse) {
			result = "invalid"
		}
		metrics.ObserveExtraction(result, time.Since(start).Seconds(), 0)
		e.logger.Error("extraction failed", "file", in.FileName, "error", err)
		return nil, err
	}

	batch := &models.Batch{
		ID:         uuid.New().String(),
		Timestamp:  e.now(),
		IssueDate:  in.IssueDate,
		TargetList: in.TargetList,
		FileName:   in.FileName,
		Generator:  e.gen.Name(),
		Projects:   projects,
		Contacts:   contacts,
	}

	if e.saver != nil {
		onStage(StageSaving)
		if err := e.saver.Add(ctx, batch); err != nil {
			metrics.ObserveExtraction("failed", time.Since(start).Seconds(), 0)
			return nil, fmt.Errorf("failed to save batch: %w", err)
		}
	}

	metrics.ObserveExtraction("success", time.Since(start).Seconds(), len(projects))
	e.logger.Info("extraction finished",
		"batch_id", batch.ID,
		"projects", len(projects),
		"contacts", len(contacts),
		"duration", time.Since(start).Round(time.Millisecond))

	return batch, nil
}

func (e *Extractor) extractProjects(ctx context.Context, in Input) ([]models.Project, error) {
	req := llm.Request{
		System: e.prompts.Projects,
		User:   prompt.ProjectsUser(in.IssueDate, in.TargetList, in.PDFText),
		JSON:   true,
	}

	var projects []models.Project
	if err := e.call(ctx, callProjects, req, e.projectsSchema, &projects); err != nil {
		return nil, fmt.Errorf("project extraction failed: %w", err)
	}
	return models.NormalizeProjects(projects), nil
}

func (e *Extractor) indexContacts(ctx context.Context, in Input) (models.ContactDictionary, error) {
	req := llm.Request{
		System: e.prompts.Contacts,
		User:   prompt.ContactsUser(in.TargetList, in.PDFText),
		JSON:   true,
	}

	var contacts models.ContactDictionary
	if err := e.call(ctx, callContacts, req, e.contactsSchema, &contacts); err != nil {
		return nil, fmt.Errorf("contact indexing failed: %w", err)
	}
	return models.NormalizeContacts(contacts), nil
}

// call answers req from the cache or the model, checks the answer against
// schema and decodes it into out. Only valid answers are cached.
func (e *Extractor) call(ctx context.Context, name string, req llm.Request, schema *gojsonschema.Schema, out any) error {
	key := cache.Key(e.gen.Name(), req.System, req.User)

	cached, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache lookup failed", "call", name, "error", err)
	}
	if ok {
		if err := decode(cached, schema, out); err == nil {
			metrics.IncCacheHit(name)
			e.logger.Debug("using cached response", "call", name)
			return nil
		}
		e.logger.Warn("ignoring invalid cached response", "call", name)
	}
	metrics.IncCacheMiss(name)

	start := time.Now()
	text, err := e.gen.Generate(ctx, req)
	metrics.ObserveLLMCall(name, e.gen.Name(), time.Since(start).Seconds())
	if err != nil {
		kind := "permanent"
		if llm.IsTemporary(err) {
			kind = "temporary"
		}
		metrics.IncLLMErrors(name, e.gen.Name(), kind)
		return err
	}

	if err := decode(text, schema, out); err != nil {
		metrics.IncLLMErrors(name, e.gen.Name(), "invalid")
		e.logger.Warn("model returned invalid JSON", "call", name, "error", err, "response_bytes", len(text))
		return err
	}

	if err := e.cache.Set(ctx, key, text); err != nil {
		e.logger.Warn("cache store failed", "call", name, "error", err)
	}
	return nil
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// stripFence removes a surrounding Markdown code fence
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// decode validates text against schema and unmarshals it into out
func decode(text string, schema *gojsonschema.Schema, out any) error {
	doc := stripFence(text)

	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidResponse, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
