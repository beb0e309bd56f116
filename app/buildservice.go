// Package app provides the application services that drive the compile
// pipeline: the dual-namespace resolver and the build orchestrator.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/previewkit/kiln/domain/assemble"
	"github.com/previewkit/kiln/domain/build"
	"github.com/previewkit/kiln/domain/manifest"
	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/domain/modset"
	"github.com/previewkit/kiln/ports"
	"github.com/rs/zerolog"
)

// State is the orchestrator's queue state. At most one build is in flight
// and at most one job is queued behind it.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateBuildingPending
)

// Build phases reported through status events while a job executes.
const (
	PhaseResolving   = "resolving"
	PhaseTranspiling = "transpiling"
	PhaseAssembling  = "assembling"
	PhaseDone        = "done"
)

// EventKind discriminates orchestrator events.
type EventKind int

const (
	// EventStarted announces a build beginning execution.
	EventStarted EventKind = iota
	// EventStatus carries a phase update for the running build.
	EventStatus
	// EventDone reports a completed build: Result on success, Err on failure.
	// Superseded jobs never produce one.
	EventDone
	// EventQueued announces a job parked in the pending slot.
	EventQueued
	// EventSuperseded announces a job discarded unreported, either
	// overwritten while queued or overtaken while building.
	EventSuperseded
)

// Event is one orchestrator notification fanned out to subscribers. State
// is the queue state after the transition the event describes.
type Event struct {
	Kind      EventKind
	JobID     string
	FirstLoad bool          // EventStarted: no successful build reported yet
	Phase     string        // EventStatus
	Result    *build.Result // EventDone, success only
	Err       *build.Error  // EventDone, failure only
	State     State
}

// BuildConfig contains configuration for BuildService.
type BuildConfig struct {
	VirtualRoot   string   // bare-package root in the virtual namespace
	LibraryRoot   string   // bare-package root in the physical namespace
	ExternalURLs  []string // resource URLs injected into assembled documents
	PreserveHosts []string // hosts whose tags survive template stripping
	DefaultTarget string   // engine target when the job names none
}

// Conventional entry modules probed when neither the root manifest nor an
// HTML template names one, in priority order.
var conventionalEntries = []string{
	"/index.tsx", "/index.ts", "/index.jsx", "/index.js",
	"/src/index.tsx", "/src/index.ts", "/src/main.tsx", "/src/main.ts",
	"/main.ts", "/app.tsx",
}

// Template documents checked by name before falling back to suffix search.
var templateNames = []string{"/index.html", "/public/index.html"}

var scriptExts = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
}

// BuildService owns the compile queue. Submissions never block: a job
// submitted while idle starts immediately, a job submitted while building
// lands in the single pending slot, overwriting whatever was parked there.
// When a build finishes with a newer job pending, its result is discarded
// unreported and the pending job starts at once, so subscribers only ever
// observe the newest module set.
type BuildService struct {
	store  ports.WorkspaceStore
	engine ports.Engine
	clock  ports.Clock
	ids    ports.IDGenerator
	logger zerolog.Logger
	cfg    BuildConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	pending *build.CompileJob
	last    *build.Result
	subs    map[int]chan Event
	nextSub int
}

// NewBuildService creates a build orchestrator. Builds run against the
// given workspace store and engine until Stop is called.
func NewBuildService(
	store ports.WorkspaceStore,
	engine ports.Engine,
	clock ports.Clock,
	ids ports.IDGenerator,
	logger zerolog.Logger,
	cfg BuildConfig,
) *BuildService {
	if cfg.DefaultTarget == "" {
		cfg.DefaultTarget = "es2020"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BuildService{
		store:  store,
		engine: engine,
		clock:  clock,
		ids:    ids,
		logger: logger.With().Str("service", "build").Logger(),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan Event),
	}
}

// Stop cancels the build in flight, if any. Jobs submitted afterwards fail
// immediately with a canceled context.
func (s *BuildService) Stop() {
	s.cancel()
}

// Subscribe registers an event listener. The returned cancel func drops the
// subscription and closes the channel. Slow listeners lose events rather
// than stalling the orchestrator.
func (s *BuildService) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// LastResult returns the most recent successfully reported build, or nil.
func (s *BuildService) LastResult() *build.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// State returns the current queue state.
func (s *BuildService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateConfig replaces the build configuration. The change applies from
// the next job; a build already executing keeps the config it started with.
func (s *BuildService) UpdateConfig(cfg BuildConfig) {
	if cfg.DefaultTarget == "" {
		cfg.DefaultTarget = "es2020"
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Submit enqueues one compile job and returns its id. It never blocks on
// the build itself.
func (s *BuildService) Submit(job build.CompileJob) string {
	if job.ID == "" {
		job.ID = s.ids.New()
	}
	job.SubmittedAt = s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		s.state = StateBuilding
		go s.run(job)
		return job.ID
	}

	if s.pending != nil {
		s.logger.Debug().
			Str("job_id", s.pending.ID).
			Str("superseded_by", job.ID).
			Msg("queued job overwritten")
		s.publishLocked(Event{Kind: EventSuperseded, JobID: s.pending.ID, State: StateBuildingPending})
	}
	queued := job
	s.pending = &queued
	s.state = StateBuildingPending
	s.publishLocked(Event{Kind: EventQueued, JobID: job.ID, State: StateBuildingPending})
	return job.ID
}

// run executes one build and drives the state machine at its completion.
// It is only ever live in one goroutine at a time.
func (s *BuildService) run(job build.CompileJob) {
	s.mu.Lock()
	first := s.last == nil
	s.publishLocked(Event{Kind: EventStarted, JobID: job.ID, FirstLoad: first, State: StateBuilding})
	s.mu.Unlock()

	result, buildErr := s.execute(s.ctx, job)

	s.mu.Lock()
	if s.pending != nil {
		// A newer job arrived while this one was executing. Its result is
		// stale; discard it unreported and start the newer job at once.
		next := *s.pending
		s.pending = nil
		s.state = StateBuilding
		s.publishLocked(Event{Kind: EventSuperseded, JobID: job.ID, State: StateBuilding})
		s.mu.Unlock()

		s.logger.Info().
			Str("job_id", job.ID).
			Str("superseded_by", next.ID).
			Msg("build result discarded")
		go s.run(next)
		return
	}

	s.state = StateIdle
	if buildErr == nil {
		s.last = result
	}
	s.publishLocked(Event{Kind: EventDone, JobID: job.ID, Result: result, Err: buildErr, State: StateIdle})
	s.mu.Unlock()

	if buildErr != nil {
		s.logger.Warn().Str("job_id", job.ID).Str("error", buildErr.Error()).Msg("build failed")
		return
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("entry", result.EntryPoint).
		Int("modules", result.Stats.Modules).
		Dur("duration", result.Stats.Duration).
		Msg("build completed")
}

// execute performs one full build: entry discovery, the engine invocation
// through the resolver callbacks, and document assembly.
func (s *BuildService) execute(ctx context.Context, job build.CompileJob) (*build.Result, *build.Error) {
	start := s.clock.Now()
	set := modset.New(job.Modules)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.status(job.ID, PhaseResolving)
	entry, template, derr := s.discoverEntry(ctx, set)
	if derr != nil {
		return nil, derr
	}

	resolver := NewResolver(set, s.store, s.logger, ResolverConfig{
		VirtualRoot: cfg.VirtualRoot,
		LibraryRoot: cfg.LibraryRoot,
	})

	opts := job.Options
	if opts.Target == "" {
		opts.Target = cfg.DefaultTarget
	}

	s.status(job.ID, PhaseTranspiling)
	out, err := s.engine.Build(ctx, ports.EngineInput{
		EntryPoint: entry,
		Options:    opts,
		Resolve:    resolver.Resolve,
		Load:       resolver.Load,
	})
	if err != nil {
		var berr *build.Error
		if !errors.As(err, &berr) {
			berr = build.Errf("Build failed", "%v", err)
		}
		return nil, berr
	}

	s.status(job.ID, PhaseAssembling)
	html := assemble.Assemble(assemble.Input{
		Template:      template,
		Script:        out.JS,
		Style:         out.CSS,
		Externals:     cfg.ExternalURLs,
		PreserveHosts: cfg.PreserveHosts,
	})

	sum := blake2b.Sum256([]byte(html))
	return &build.Result{
		JobID:       job.ID,
		EntryPoint:  entry,
		HTML:        html,
		JS:          out.JS,
		CSS:         out.CSS,
		Fingerprint: hex.EncodeToString(sum[:]),
		Imports:     out.Imports,
		Stats: build.Stats{
			Modules:     set.Len(),
			JSBytes:     len(out.JS),
			CSSBytes:    len(out.CSS),
			Duration:    s.clock.Now().Sub(start),
			Resolutions: resolver.Counts(),
		},
	}, nil
}

// discoverEntry computes the build's entry specifier and HTML template,
// checking the virtual set before the workspace store at every step:
// a root manifest main/module field, then an HTML document's first local
// script (module scripts preferred), then conventional entry names, then
// the first script-like file anywhere. Finding none fails the job before
// the engine is ever invoked.
func (s *BuildService) discoverEntry(ctx context.Context, set *modset.Set) (entry, template string, err *build.Error) {
	if data, ok := s.readWorkspace(ctx, set, "/package.json"); ok {
		m := manifest.Parse(data)
		if m.Main != "" {
			return modpath.Normalize(m.Main), "", nil
		}
		if m.Module != "" {
			return modpath.Normalize(m.Module), "", nil
		}
	}

	templatePath := ""
	for _, name := range templateNames {
		if data, ok := s.readWorkspace(ctx, set, name); ok {
			template, templatePath = string(data), name
			break
		}
	}
	if template == "" {
		if p, data, ok := s.findBySuffix(ctx, set, ".html"); ok {
			template, templatePath = string(data), p
		}
	}
	if template != "" {
		if src, _, ok := assemble.FindEntryScript(template); ok {
			return modpath.Join(modpath.Dir(templatePath), src), template, nil
		}
		// A template with no local script still serves as the page shell;
		// keep searching for the entry module.
	}

	for _, p := range conventionalEntries {
		if set.Has(p) {
			return p, template, nil
		}
		if info, serr := s.store.Stat(ctx, p); serr == nil && !info.Dir {
			return p, template, nil
		}
	}

	for _, p := range set.Paths() {
		if scriptExts[modpath.Ext(p)] {
			return p, template, nil
		}
	}
	if files, lerr := s.store.List(ctx, modpath.Root); lerr == nil {
		for _, info := range files {
			if scriptExts[modpath.Ext(info.Path)] {
				return info.Path, template, nil
			}
		}
	}

	return "", "", build.Errf("Entry point not found",
		"no manifest entry, HTML script reference, or conventional entry module in the workspace")
}

// readWorkspace reads one path, virtual set first, then the store.
func (s *BuildService) readWorkspace(ctx context.Context, set *modset.Set, path string) ([]byte, bool) {
	if code, ok := set.Lookup(path); ok {
		return []byte(code), true
	}
	data, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// findBySuffix returns the first path with the given suffix, virtual set
// first, then the store listing. Both scans run in sorted path order.
func (s *BuildService) findBySuffix(ctx context.Context, set *modset.Set, suffix string) (string, []byte, bool) {
	for _, p := range set.Paths() {
		if strings.HasSuffix(p, suffix) {
			code, _ := set.Lookup(p)
			return p, []byte(code), true
		}
	}
	files, err := s.store.List(ctx, modpath.Root)
	if err != nil {
		return "", nil, false
	}
	for _, info := range files {
		if strings.HasSuffix(info.Path, suffix) {
			if data, rerr := s.store.Read(ctx, info.Path); rerr == nil {
				return info.Path, data, true
			}
		}
	}
	return "", nil, false
}

// status publishes a phase update for the running job.
func (s *BuildService) status(jobID, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(Event{Kind: EventStatus, JobID: jobID, Phase: phase, State: s.state})
}

// publishLocked fans an event out to every subscriber. Full subscriber
// buffers drop the event; the orchestrator never blocks on a listener.
func (s *BuildService) publishLocked(ev Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn().Int("subscriber", id).Str("job_id", ev.JobID).Msg("event dropped")
		}
	}
}
