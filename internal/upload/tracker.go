// Package upload submits documents to the StudyLM backend and tracks their
// readiness by polling the status endpoint until each one settles.
package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/studylm/uploader/internal/backend"
	"github.com/studylm/uploader/internal/clock"
	"github.com/studylm/uploader/internal/logging"
	"github.com/studylm/uploader/internal/models"
)

// Backend is the subset of the StudyLM API the tracker needs.
type Backend interface {
	UploadPDF(ctx context.Context, name string, body io.Reader) (*models.SubmitResponse, error)
	UploadImage(ctx context.Context, name, contentType string, body io.Reader) (*models.SubmitResponse, error)
	IngestURL(ctx context.Context, link string) (*models.SubmitResponse, error)
	Status(ctx context.Context, fileID string) (*models.StatusResponse, error)
}

// Options configures a Tracker.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int

	// ReportExhausted moves entries whose attempt budget ran out to
	// EntryStatusExhausted. When false they stay in indexing silently.
	ReportExhausted bool

	// DisplayTimeout removes terminal entries after this long. Zero keeps them until dismissed.
	DisplayTimeout time.Duration

	Limits    Limits
	Scheduler clock.Scheduler
	Logger    *logging.Logger
}

// DefaultOptions returns the standard polling policy: every 2s, 60 attempts.
func DefaultOptions() Options {
	return Options{
		PollInterval:    2 * time.Second,
		MaxAttempts:     60,
		ReportExhausted: true,
		DisplayTimeout:  5 * time.Second,
		Limits:          DefaultLimits(),
	}
}

// scheduled is a registered one-shot timer. seq identifies it so a callback
// whose timer was replaced or stopped can tell it is stale.
type scheduled struct {
	timer clock.Timer
	seq   uint64
}

// Tracker owns the uploads of one UI scope. All entry mutation happens under mu.
type Tracker struct {
	backend Backend
	opts    Options
	sched   clock.Scheduler
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*models.UploadEntry
	order    []string
	errs     map[string]error
	polls    map[string]*scheduled // present while a loop is active for the id
	removals map[string]*scheduled
	seq      uint64
	closed   bool

	hub *hub
}

// New creates a tracker. Zero durations, counts and limits fall back to DefaultOptions.
func New(b Backend, opts Options) *Tracker {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.DisplayTimeout < 0 {
		opts.DisplayTimeout = 0
	}
	if opts.Limits.MaxFileSize <= 0 {
		opts.Limits.MaxFileSize = def.Limits.MaxFileSize
	}
	if opts.Limits.MaxBatch <= 0 {
		opts.Limits.MaxBatch = def.Limits.MaxBatch
	}
	if len(opts.Limits.AllowedExtensions) == 0 {
		opts.Limits.AllowedExtensions = def.Limits.AllowedExtensions
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		backend:  b,
		opts:     opts,
		sched:    opts.Scheduler,
		logger:   opts.Logger.With("component", "upload_tracker"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*models.UploadEntry),
		errs:     make(map[string]error),
		polls:    make(map[string]*scheduled),
		removals: make(map[string]*scheduled),
		hub:      newHub(),
	}
}

// Options returns the effective options.
func (t *Tracker) Options() Options {
	return t.opts
}

// Submit validates it, sends exactly one ingestion request and, on success,
// starts tracking the returned file id. Failures return a *SubmissionError
// and create no entry.
func (t *Tracker) Submit(ctx context.Context, it Item) (models.UploadEntry, error) {
	label := it.Label()
	if t.isClosed() {
		return models.UploadEntry{}, closedError(label, nil)
	}

	p, serr := t.opts.Limits.prepare(it)
	if serr != nil {
		t.logger.Info("upload rejected", "item", label, "code", serr.Code, "reason", serr.Message)
		return models.UploadEntry{}, serr
	}
	return t.send(ctx, p, label)
}

func (t *Tracker) send(ctx context.Context, p *prepared, label string) (models.UploadEntry, error) {
	// CancelAll aborts the request through reqCtx.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	var (
		resp *models.SubmitResponse
		err  error
	)
	switch p.kind {
	case models.SourceKindPDF:
		resp, err = t.backend.UploadPDF(reqCtx, p.name, p.body)
	case models.SourceKindImage:
		resp, err = t.backend.UploadImage(reqCtx, p.name, p.contentType, p.body)
	default:
		resp, err = t.backend.IngestURL(reqCtx, p.url)
	}

	if err != nil {
		if t.isClosed() {
			return models.UploadEntry{}, closedError(label, err)
		}
		serr := submissionFailure(label, err)
		t.logger.Warn("upload failed", "item", label, "code", serr.Code, "status", serr.StatusCode, "error", serr.Message)
		return models.UploadEntry{}, serr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return models.UploadEntry{}, closedError(label, nil)
	}

	id := resp.FileID
	if existing, ok := t.entries[id]; ok {
		// Same document again: keep the existing loop, or restart one that stopped.
		if !existing.Status.Terminal() && t.polls[id] == nil {
			t.restartLocked(existing)
		}
		return existing.Clone(), nil
	}

	entry := models.NewUploadEntry(id, p.name, p.kind, p.size, time.Now())
	t.entries[id] = entry
	t.order = append(t.order, id)
	t.publishLocked(EventEntryUpdated, entry)
	t.scheduleLocked(id, 1, 0)

	t.logger.Info("upload accepted", "id", id, "name", p.name, "kind", p.kind)
	return entry.Clone(), nil
}

// pollOnce issues one status request for id and applies the result.
// It is a no-op when seq is no longer the registered timer for id.
func (t *Tracker) pollOnce(id string, attempt int, seq uint64) {
	t.mu.Lock()
	if !t.currentLocked(id, seq) {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	resp, err := t.backend.Status(t.ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(id, seq) {
		return
	}
	entry := t.entries[id]
	entry.Attempts = attempt

	if err != nil {
		delete(t.polls, id)
		t.logger.Warn("status poll failed", "id", id, "attempt", attempt, "error", err)
		t.settleLocked(entry, models.EntryStatusError, &PollTransportError{ID: id, Attempt: attempt, Err: err})
		return
	}

	if resp.Stage != nil {
		stage := *resp.Stage
		entry.Stage = &stage
	}

	switch resp.Readiness() {
	case models.Ready:
		delete(t.polls, id)
		t.logger.Info("document ready", "id", id, "attempts", attempt)
		t.settleLocked(entry, models.EntryStatusSuccess, nil)

	case models.Failed:
		delete(t.polls, id)
		t.logger.Warn("document processing failed", "id", id, "error", resp.ErrorMessage())
		t.settleLocked(entry, models.EntryStatusError, &ProcessingError{ID: id, Message: resp.ErrorMessage()})

	default:
		if attempt < t.opts.MaxAttempts {
			entry.UpdatedAt = time.Now()
			t.publishLocked(EventEntryUpdated, entry)
			t.scheduleLocked(id, attempt+1, t.opts.PollInterval)
			return
		}

		delete(t.polls, id)
		t.logger.Warn("poll budget exhausted", "id", id, "attempts", attempt)
		if t.opts.ReportExhausted {
			t.settleLocked(entry, models.EntryStatusExhausted, ErrPollExhausted)
			return
		}
		entry.UpdatedAt = time.Now()
		t.publishLocked(EventEntryUpdated, entry)
	}
}

// CancelAll stops every timer, aborts in-flight requests and closes all
// subscriptions. No entry changes after it returns. It is idempotent.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, s := range t.polls {
		s.timer.Stop()
		delete(t.polls, id)
	}
	for id, s := range t.removals {
		s.timer.Stop()
		delete(t.removals, id)
	}
	t.mu.Unlock()

	t.cancel()
	t.hub.close()
	t.logger.Info("upload tracker cancelled")
}

// CheckAgain restarts polling at attempt 1 for an entry that is not terminal
// and has no active loop.
func (t *Tracker) CheckAgain(id string) (models.UploadEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return models.UploadEntry{}, ErrTrackerClosed
	}
	entry, ok := t.entries[id]
	if !ok {
		return models.UploadEntry{}, ErrEntryNotFound
	}
	if entry.Status.Terminal() || t.polls[id] != nil {
		return entry.Clone(), ErrCheckNotAllowed
	}

	t.restartLocked(entry)
	t.logger.Info("checking again", "id", id)
	return entry.Clone(), nil
}

// Dismiss stops tracking id.
func (t *Tracker) Dismiss(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTrackerClosed
	}
	if _, ok := t.entries[id]; !ok {
		return ErrEntryNotFound
	}
	t.removeLocked(id)
	return nil
}

// Get returns a snapshot of one entry.
func (t *Tracker) Get(id string) (models.UploadEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return models.UploadEntry{}, false
	}
	return entry.Clone(), true
}

// Entries returns snapshots of all entries in submission order.
func (t *Tracker) Entries() []models.UploadEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.UploadEntry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].Clone())
	}
	return out
}

// Err returns the error behind an error or exhausted entry, nil otherwise.
func (t *Tracker) Err(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs[id]
}

// Polling reports whether id has an active poll loop.
func (t *Tracker) Polling(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls[id] != nil
}

// Subscribe returns a feed of entry changes. Call Unsubscribe when done.
func (t *Tracker) Subscribe() *Subscription {
	return t.hub.subscribe()
}

// Unsubscribe stops delivery to sub and closes its channel.
func (t *Tracker) Unsubscribe(sub *Subscription) {
	t.hub.unsubscribe(sub)
}

// Await blocks until every id is settled: terminal, exhausted, left without
// a loop, or removed. It returns ErrTrackerClosed if the tracker is cancelled first.
func (t *Tracker) Await(ctx context.Context, ids ...string) error {
	sub := t.Subscribe()
	defer func() { t.Unsubscribe(sub) }()

	for {
		if settled, err := t.settled(ids); settled || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub.C:
			if !ok && !t.isClosed() {
				// Dropped for falling behind.
				sub = t.Subscribe()
			}
		}
	}
}

func (t *Tracker) settled(ids []string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, ErrTrackerClosed
	}
	for _, id := range ids {
		entry, ok := t.entries[id]
		if !ok || entry.Status != models.EntryStatusIndexing {
			continue
		}
		if t.polls[id] != nil {
			return false, nil
		}
	}
	return true, nil
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) currentLocked(id string, seq uint64) bool {
	if t.closed {
		return false
	}
	s := t.polls[id]
	return s != nil && s.seq == seq
}

// scheduleLocked registers the next poll for id, replacing any timer it had.
func (t *Tracker) scheduleLocked(id string, attempt int, delay time.Duration) {
	if old := t.polls[id]; old != nil {
		old.timer.Stop()
	}
	t.seq++
	seq := t.seq
	s := &scheduled{seq: seq}
	t.polls[id] = s
	s.timer = t.sched.AfterFunc(delay, func() {
		t.pollOnce(id, attempt, seq)
	})
}

func (t *Tracker) restartLocked(entry *models.UploadEntry) {
	entry.Status = models.EntryStatusIndexing
	entry.Error = ""
	entry.Attempts = 0
	entry.UpdatedAt = time.Now()
	delete(t.errs, entry.ID)
	t.publishLocked(EventEntryUpdated, entry)
	t.scheduleLocked(entry.ID, 1, 0)
}

// settleLocked moves entry out of indexing. Terminal entries never change again.
func (t *Tracker) settleLocked(entry *models.UploadEntry, status models.EntryStatus, err error) {
	if entry.Status.Terminal() {
		return
	}

	now := time.Now()
	entry.Status = status
	entry.UpdatedAt = now
	if err != nil {
		entry.Error = errorText(err)
		t.errs[entry.ID] = err
	}
	if status.Terminal() {
		entry.CompletedAt = &now
		t.scheduleRemovalLocked(entry.ID)
	}
	t.publishLocked(EventEntryUpdated, entry)
}

func (t *Tracker) scheduleRemovalLocked(id string) {
	if t.opts.DisplayTimeout <= 0 {
		return
	}
	t.seq++
	seq := t.seq
	s := &scheduled{seq: seq}
	t.removals[id] = s
	s.timer = t.sched.AfterFunc(t.opts.DisplayTimeout, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		if r := t.removals[id]; r == nil || r.seq != seq {
			return
		}
		t.removeLocked(id)
	})
}

func (t *Tracker) removeLocked(id string) {
	entry := t.entries[id]
	if s := t.polls[id]; s != nil {
		s.timer.Stop()
		delete(t.polls, id)
	}
	if s := t.removals[id]; s != nil {
		s.timer.Stop()
		delete(t.removals, id)
	}
	delete(t.entries, id)
	delete(t.errs, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.publishLocked(EventEntryRemoved, entry)
}

func (t *Tracker) publishLocked(typ string, entry *models.UploadEntry) {
	t.hub.publish(Event{Type: typ, Entry: entry.Clone()})
}

// errorText is the message shown on an entry.
func errorText(err error) string {
	var httpErr *backend.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Body != "" {
			return httpErr.Body
		}
		return http.StatusText(httpErr.StatusCode)
	}
	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.Message
	}
	return err.Error()
}

func submissionFailure(label string, err error) *SubmissionError {
	var httpErr *backend.HTTPError
	switch {
	case errors.As(err, &httpErr):
		msg := httpErr.Body
		if msg == "" {
			msg = http.StatusText(httpErr.StatusCode)
		}
		return &SubmissionError{Item: label, Code: CodeBackendRejected, StatusCode: httpErr.StatusCode, Message: msg, Err: err}
	case errors.Is(err, backend.ErrMissingFileID), errors.Is(err, backend.ErrInvalidResponse):
		return &SubmissionError{Item: label, Code: CodeInvalidResponse, Message: err.Error(), Err: err}
	default:
		return &SubmissionError{Item: label, Code: CodeTransport, Message: err.Error(), Err: err}
	}
}

func closedError(label string, cause error) *SubmissionError {
	err := ErrTrackerClosed
	if cause != nil {
		err = errors.Join(ErrTrackerClosed, cause)
	}
	return &SubmissionError{Item: label, Code: CodeTrackerClosed, Message: ErrTrackerClosed.Error(), Err: err}
}
