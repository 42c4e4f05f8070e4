package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/lock"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/mapapi"
)

// recordAttempts bounds the local writes that record a successful push.
const recordAttempts = 3

// DefaultStaleRunAfter is how long a persisted in-progress flag is honoured
// before the run is assumed to belong to a crashed process.
const DefaultStaleRunAfter = time.Hour

// Config holds the required configuration for creating a Service.
type Config struct {
	// Clock overrides the time source.
	Clock func() time.Time

	// DryRun logs map writes instead of executing them and leaves establishments untouched.
	DryRun bool

	// Establishments is the establishment store.
	Establishments establishment.Store

	// Lock guards against concurrent runs. Defaults to an in-process lock.
	Lock lock.Locker

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// MapClient is the map service client.
	MapClient MapClient

	// Source is the source tag of pushed establishments. Defaults to mapapi.DefaultSource.
	Source string

	// StaleRunAfter is how long an in-progress run may go without finishing before a new
	// run is allowed to take over. Defaults to one hour. Negative disables takeover.
	StaleRunAfter time.Duration

	// StatusStore persists the status record.
	StatusStore StatusStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Establishments == nil {
		errs = append(errs, errors.New("establishment store is required"))
	}
	if c.MapClient == nil {
		errs = append(errs, errors.New("map client is required"))
	}
	if c.StatusStore == nil {
		errs = append(errs, errors.New("status store is required"))
	}
	return errors.Join(errs...)
}

// Service tracks and executes sync runs.
type Service struct {
	dryRun         bool
	establishments establishment.Store
	listeners      []Listener
	listenersMu    gosync.RWMutex
	lock           lock.Locker
	logger         *slog.Logger
	mapClient      MapClient
	now            func() time.Time
	source         string
	staleRunAfter  time.Duration
	statusStore    StatusStore
}

// New creates a new sync tracker.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.MapClient
	if cfg.DryRun {
		client = newDryRunClient(cfg.MapClient, logger)
	}

	locker := cfg.Lock
	if locker == nil {
		locker = lock.NewLocal()
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	source := cfg.Source
	if source == "" {
		source = mapapi.DefaultSource
	}

	staleRunAfter := cfg.StaleRunAfter
	if staleRunAfter == 0 {
		staleRunAfter = DefaultStaleRunAfter
	}

	return &Service{
		dryRun:         cfg.DryRun,
		establishments: cfg.Establishments,
		lock:           locker,
		logger:         logger,
		mapClient:      client,
		now:            now,
		source:         source,
		staleRunAfter:  staleRunAfter,
		statusStore:    cfg.StatusStore,
	}, nil
}

// Subscribe registers a listener for status changes.
func (s *Service) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Status returns the persisted status, or the default record if none exists.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st, err := s.statusStore.Status(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("getting status: %w", err)
	}
	if st == nil {
		return Status{FailedSync: []string{}, PendingSync: []string{}, Logs: []LogEntry{}}, nil
	}
	return *st, nil
}

// Eligible returns the approved records that need to be pushed, in store order.
func (s *Service) Eligible(ctx context.Context) ([]establishment.Record, error) {
	approved, err := s.establishments.Establishments(ctx, establishment.BucketApproved)
	if err != nil {
		return nil, fmt.Errorf("listing approved establishments: %w", err)
	}

	eligible := make([]establishment.Record, 0, len(approved))
	for _, r := range approved {
		if r.Eligible() {
			eligible = append(eligible, r)
		}
	}
	return eligible, nil
}

// StartRun pushes every eligible establishment to the map service.
// The returned error is reserved for status persistence failures; rejected or aborted
// runs are reported through RunResult.Err.
func (s *Service) StartRun(ctx context.Context) (*RunResult, error) {
	return s.execute(ctx, false)
}

// RetryFailedRun pushes again the establishments that failed in the previous run.
func (s *Service) RetryFailedRun(ctx context.Context) (*RunResult, error) {
	return s.execute(ctx, true)
}

// run holds the working state of one run.
type run struct {
	result *RunResult
	status Status
}

func (s *Service) execute(ctx context.Context, retry bool) (*RunResult, error) {
	// A run always completes once started.
	ctx = context.WithoutCancel(ctx)

	unlock, err := s.lock.TryLock(ctx)
	if errors.Is(err, lock.ErrLocked) {
		return s.rejected(retry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer unlock()

	current, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}

	if current.InProgress {
		if !s.isStale(current) {
			return s.rejected(retry), nil
		}
		s.logger.Warn("taking over stale run",
			"run_id", current.RunID,
			"started_at", current.RunStartedAt)
	}

	targets := slices.Clone(current.FailedSync)
	if retry && len(targets) == 0 {
		s.logger.Warn("no failed items to retry")
		return &RunResult{
			Err:     ErrNothingToRetry,
			Message: ErrNothingToRetry.Error(),
			Outcome: OutcomeNothingToRetry,
			Retry:   true,
		}, nil
	}

	r := &run{
		result: &RunResult{Retry: retry, RunID: uuid.NewString(), FailedSync: []string{}},
		status: current.Clone(),
	}

	startedAt := s.now().UTC()
	r.status.InProgress = true
	r.status.Success = nil
	r.status.TotalProcessed = 0
	r.status.TotalSuccess = 0
	r.status.TotalFailed = 0
	r.status.PendingSync = []string{}
	r.status.FailedSync = []string{}
	r.status.RunID = r.result.RunID
	r.status.RunStartedAt = &startedAt
	if retry {
		r.status.PendingSync = slices.Clone(targets)
	}

	startMsg := "Starting sync run"
	if retry {
		startMsg = "Retrying failed establishments"
	}
	s.logger.Info("sync run started", "run_id", r.result.RunID, "retry", retry, "dry_run", s.dryRun)
	if err := s.persist(ctx, r, s.entry(SeverityInfo, startMsg), nil, nil); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	if !s.checkHealth(ctx, r) {
		if retry {
			// Keep the failed set so the retry can be requested again.
			r.status.FailedSync = targets
			r.result.FailedSync = slices.Clone(targets)
		}
		r.result.Err = ErrAPIUnreachable
		r.result.Message = ErrAPIUnreachable.Error()
		r.result.Outcome = OutcomeAPIUnavailable
		r.status.PendingSync = []string{}
		return s.finish(ctx, r, false, false, s.entry(SeverityError, "Sync aborted: API unavailable"))
	}

	var records []establishment.Record
	if retry {
		records, err = s.resolve(ctx, targets)
	} else {
		records, err = s.Eligible(ctx)
	}
	if err != nil {
		s.logger.Error("failed to load establishments", "run_id", r.result.RunID, "error", err)
		r.result.Err = err
		r.result.Message = fmt.Sprintf("sync failed: %v", err)
		r.result.Outcome = OutcomeFailed
		r.status.PendingSync = []string{}
		return s.finish(ctx, r, false, false, s.entry(SeverityError, fmt.Sprintf("Sync failed: %v", err)))
	}

	if len(records) == 0 {
		r.result.Success = true
		r.result.Message = "nothing to sync"
		r.result.Outcome = OutcomeNothingToSync
		r.status.PendingSync = []string{}
		r.status.FailedSync = []string{}
		// A retry whose targets all vanished does not count as a sync.
		return s.finish(ctx, r, true, !retry, s.entry(SeverityInfo, "No establishments to sync"))
	}

	r.status.PendingSync = make([]string, len(records))
	for i, rec := range records {
		r.status.PendingSync[i] = rec.ID
	}
	s.persistBestEffort(ctx, r, s.entry(SeverityInfo, fmt.Sprintf("%d establishments to sync", len(records))), nil)

	for _, rec := range records {
		s.processItem(ctx, r, rec)
	}

	success := r.result.TotalFailed == 0
	r.result.Success = success
	r.result.Outcome = OutcomeCompleted
	severity := SeveritySuccess
	if !success {
		r.result.Outcome = OutcomePartial
		severity = SeverityWarning
	}

	label := "Sync completed"
	if retry {
		label = "Retry completed"
	}
	r.result.Message = fmt.Sprintf("%s: %d succeeded, %d failed", label, r.result.TotalSuccess, r.result.TotalFailed)

	s.logger.Info("sync run completed",
		"run_id", r.result.RunID,
		"processed", r.result.TotalProcessed,
		"succeeded", r.result.TotalSuccess,
		"failed", r.result.TotalFailed,
		"dry_run", s.dryRun)

	r.status.PendingSync = []string{}
	return s.finish(ctx, r, success, true, s.entry(severity, r.result.Message))
}

// checkHealth probes the map service and records the outcome. Returns false if unreachable.
func (s *Service) checkHealth(ctx context.Context, r *run) bool {
	health, err := s.mapClient.Health(ctx)
	if err != nil {
		s.logger.Error("map API unavailable", "run_id", r.result.RunID, "error", err)
		s.persistBestEffort(ctx, r, s.entry(SeverityError, fmt.Sprintf("Map API unavailable: %v", err)), nil)
		return false
	}

	s.persistBestEffort(ctx, r, s.entry(SeveritySuccess, "Map API available"), nil)

	switch {
	case health.APIKeyConfigured:
		s.persistBestEffort(ctx, r, s.entry(SeveritySuccess, "BTC Map API key configured"), nil)
	case health.OSMAuthConfigured:
		s.persistBestEffort(ctx, r, s.entry(SeveritySuccess, "OpenStreetMap authentication configured"), nil)
	default:
		s.persistBestEffort(ctx, r, s.entry(SeverityWarning, "No map credentials configured, sync may fail"), nil)
	}
	return true
}

// resolve looks up the approved records whose IDs are in ids, in store order.
// IDs no longer approved are skipped.
func (s *Service) resolve(ctx context.Context, ids []string) ([]establishment.Record, error) {
	approved, err := s.establishments.Establishments(ctx, establishment.BucketApproved)
	if err != nil {
		return nil, fmt.Errorf("listing approved establishments: %w", err)
	}

	var out []establishment.Record
	for _, rec := range approved {
		if slices.Contains(ids, rec.ID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// processItem pushes one record and records the outcome. It never aborts the run.
func (s *Service) processItem(ctx context.Context, r *run, rec establishment.Record) {
	s.persistBestEffort(ctx, r, s.entry(SeverityInfo, fmt.Sprintf("Processing establishment: %s", rec.Name)), nil)

	item := s.push(ctx, rec)

	r.result.TotalProcessed++
	r.status.TotalProcessed++
	r.status.PendingSync = slices.DeleteFunc(r.status.PendingSync, func(id string) bool { return id == rec.ID })

	var entry *LogEntry
	if item.Err != nil {
		itemErr := &ItemError{EstablishmentID: rec.ID, Name: rec.Name, Err: item.Err}
		r.result.TotalFailed++
		r.result.Errors = append(r.result.Errors, itemErr)
		r.result.FailedSync = append(r.result.FailedSync, rec.ID)
		r.status.TotalFailed++
		r.status.FailedSync = append(r.status.FailedSync, rec.ID)

		s.logger.Error("failed to sync establishment",
			"run_id", r.result.RunID,
			"establishment_id", rec.ID,
			"map_id", item.MapID,
			"error", item.Err)
		entry = s.entry(SeverityError, fmt.Sprintf("Failed to sync establishment %s: %v", rec.Name, item.Err))
	} else {
		r.result.TotalSuccess++
		r.status.TotalSuccess++

		action := "updated"
		if item.Created {
			action = "created"
		}
		s.logger.Info("synced establishment",
			"run_id", r.result.RunID,
			"establishment_id", rec.ID,
			"map_id", item.MapID,
			"action", action)
		entry = s.entry(SeveritySuccess, fmt.Sprintf("Establishment %s: %s", action, rec.Name))
	}

	s.persistBestEffort(ctx, r, entry, &item)
}

// push creates or updates one record on the map and marks it as synced.
func (s *Service) push(ctx context.Context, rec establishment.Record) ItemResult {
	item := ItemResult{EstablishmentID: rec.ID, MapID: rec.MapID}
	now := s.now().UTC()
	payload := mapapi.NewEstablishment(rec, now, s.source)

	if rec.MapID == "" {
		mapID, err := s.mapClient.CreateEstablishment(ctx, payload)
		if err != nil {
			item.Err = err
			return item
		}
		item.Created = true
		item.MapID = mapID
	} else if err := s.mapClient.UpdateEstablishment(ctx, rec.MapID, payload); err != nil {
		item.Err = err
		return item
	}

	if s.dryRun {
		return item
	}

	if err := s.markSynced(ctx, rec.ID, item.MapID, now); err != nil {
		item.Err = fmt.Errorf("recording map id %s: %w", item.MapID, err)
	}
	return item
}

// markSynced re-reads the record and patches only the sync fields, so edits made while
// the run was in flight survive. A record removed in the meantime is left removed.
func (s *Service) markSynced(ctx context.Context, id string, mapID string, at time.Time) error {
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		var current *establishment.Record
		current, err = s.establishments.Establishment(ctx, id)
		if errors.Is(err, establishment.ErrNotFound) {
			s.logger.Warn("establishment removed during sync, map id not recorded",
				"establishment_id", id,
				"map_id", mapID)
			return nil
		}
		if err == nil {
			current.MapID = mapID
			current.NeedsUpdate = false
			current.SyncedAt = &at
			if err = s.establishments.PutEstablishment(ctx, *current); err == nil {
				return nil
			}
		}
		s.logger.Warn("failed to record sync",
			"establishment_id", id,
			"map_id", mapID,
			"attempt", attempt,
			"error", err)
	}
	return err
}

// finish ends the run and persists the terminal status.
func (s *Service) finish(ctx context.Context, r *run, success bool, setLastSync bool, entry *LogEntry) (*RunResult, error) {
	r.status.InProgress = false
	r.status.Success = &success
	if setLastSync {
		now := s.now().UTC()
		r.status.LastSync = &now
	}

	if err := s.persist(ctx, r, entry, nil, r.result); err != nil {
		return r.result, fmt.Errorf("finishing run: %w", err)
	}
	return r.result, nil
}

// persistBestEffort persists the status and logs failures. Used mid-run, where a
// failed write is superseded by the next whole-record write.
func (s *Service) persistBestEffort(ctx context.Context, r *run, entry *LogEntry, item *ItemResult) {
	if err := s.persist(ctx, r, entry, item, nil); err != nil {
		s.logger.Error("failed to persist sync status", "run_id", r.result.RunID, "error", err)
	}
}

// persist appends entry to the log, writes the whole status record and notifies listeners.
func (s *Service) persist(ctx context.Context, r *run, entry *LogEntry, item *ItemResult, result *RunResult) error {
	if entry != nil {
		r.status.addLog(*entry)
	}

	if err := s.statusStore.SetStatus(ctx, r.status.Clone()); err != nil {
		return fmt.Errorf("storing status: %w", err)
	}

	s.notify(ctx, Event{Entry: entry, Item: item, Result: result, Status: r.status.Clone()})
	return nil
}

func (s *Service) notify(ctx context.Context, event Event) {
	s.listenersMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ctx, event)
	}
}

func (s *Service) rejected(retry bool) *RunResult {
	s.logger.Warn("sync run rejected", "reason", ErrRunInProgress, "retry", retry)
	return &RunResult{
		Err:     ErrRunInProgress,
		Message: ErrRunInProgress.Error(),
		Outcome: OutcomeAlreadyRunning,
		Retry:   retry,
	}
}

func (s *Service) isStale(st Status) bool {
	return st.Stale(s.now(), s.staleRunAfter)
}

func (s *Service) entry(severity Severity, message string) *LogEntry {
	return &LogEntry{Message: message, Severity: severity, Timestamp: s.now().UTC()}
}
