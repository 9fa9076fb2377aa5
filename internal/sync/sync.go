// Package sync implements the single-writer bill synchronization
// orchestration described in spec.md §4.9: walk monitored jurisdictions,
// diff upstream change hashes against local ones, persist changed bills,
// and record a SyncRun/SyncError bookkeeping trail.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/aphchrisc/policypulse/internal/clock"
	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/logging"
	"github.com/aphchrisc/policypulse/internal/upstream"
)

// BillStore is the subset of store.Store the engine depends on, kept as an
// interface so tests can substitute an in-memory fake.
type BillStore interface {
	UpsertBill(ctx context.Context, bill legislation.Bill, sponsors []legislation.BillSponsor, texts []legislation.BillText, amendments []legislation.Amendment) (legislation.Bill, bool, error)
	GetChangeHash(ctx context.Context, dataSource, externalID string) (string, error)
	CreateSyncRun(ctx context.Context, runType legislation.SyncRunType, startedAt time.Time) (legislation.SyncRun, error)
	FinishSyncRun(ctx context.Context, run legislation.SyncRun) error
}

// Summary is the caller-facing result of one runSync invocation.
type Summary struct {
	Run legislation.SyncRun
}

// Engine is SyncEngine (spec.md §4.9). Not safe for concurrent runSync
// calls by design: the caller must serialize or reject overlapping runs.
type Engine struct {
	store         BillStore
	client        upstream.Client
	dataSource    string
	jurisdictions []string
	clock         clock.Clock
	log           logging.Logger
}

// Config configures a new Engine.
type Config struct {
	DataSource    string
	Jurisdictions []string
	Clock         clock.Clock
	Log           logging.Logger
}

// New builds an Engine. Clock and Log default to clock.System{} and
// logging.Noop{} when left zero.
func New(store BillStore, client upstream.Client, cfg Config) *Engine {
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	l := cfg.Log
	if l == nil {
		l = logging.Noop{}
	}
	return &Engine{
		store:         store,
		client:        client,
		dataSource:    cfg.DataSource,
		jurisdictions: cfg.Jurisdictions,
		clock:         c,
		log:           l,
	}
}

// RunSync executes the full sync procedure from spec.md §4.9. The returned
// error is non-nil only for a top-level failure (e.g. the SyncRun could not
// be created or persisted); per-item failures are captured as SyncError
// entries on the returned Summary and do not abort the run.
func (e *Engine) RunSync(ctx context.Context, runType legislation.SyncRunType) (Summary, error) {
	startedAt := e.clock.Now()
	run, err := e.store.CreateSyncRun(ctx, runType, startedAt)
	if err != nil {
		return Summary{}, err
	}
	run.Status = legislation.SyncInProgress

	failed := e.walkJurisdictions(ctx, &run)

	run.FinishedAt = e.clock.Now()
	switch {
	case failed:
		run.Status = legislation.SyncFailed
	case len(run.Errors) > 0:
		run.Status = legislation.SyncPartial
	default:
		run.Status = legislation.SyncCompleted
	}

	if err := e.store.FinishSyncRun(ctx, run); err != nil {
		return Summary{Run: run}, err
	}
	return Summary{Run: run}, nil
}

// walkJurisdictions runs step 2 of spec.md §4.9 and reports whether an
// unhandled (top-level) error occurred.
func (e *Engine) walkJurisdictions(ctx context.Context, run *legislation.SyncRun) (failed bool) {
	for _, state := range e.jurisdictions {
		if err := ctx.Err(); err != nil {
			return true
		}
		if err := e.syncJurisdiction(ctx, run, state); err != nil {
			e.log.Error("sync: jurisdiction failed", map[string]any{"state": state, "error": err.Error()})
			run.Errors = append(run.Errors, legislation.SyncError{
				SyncRunID: run.ID,
				ItemType:  "jurisdiction",
				ItemID:    state,
				ErrorType: errorType(err),
				Message:   err.Error(),
				OccurredAt: e.clock.Now(),
			})
		}
	}
	return false
}

func (e *Engine) syncJurisdiction(ctx context.Context, run *legislation.SyncRun, state string) error {
	sessions, err := e.client.GetSessionList(ctx, state)
	if err != nil {
		return err
	}

	currentYear := e.clock.Now().Year()
	for _, sess := range sessions {
		keep := sess.YearEnd >= currentYear || !sess.SineDie
		if !keep {
			continue
		}
		e.syncSession(ctx, run, sess)
	}
	return nil
}

func (e *Engine) syncSession(ctx context.Context, run *legislation.SyncRun, sess upstream.Session) {
	masterList, err := e.client.GetMasterListRaw(ctx, sess.ID)
	if err != nil {
		run.Errors = append(run.Errors, legislation.SyncError{
			SyncRunID: run.ID, ItemType: "session", ItemID: sess.ID,
			ErrorType: errorType(err), Message: err.Error(), OccurredAt: e.clock.Now(),
		})
		return
	}

	for key, entry := range masterList {
		if key == "0" {
			continue
		}
		changed, err := e.hasChanged(ctx, entry)
		if err != nil {
			run.Errors = append(run.Errors, legislation.SyncError{
				SyncRunID: run.ID, ItemType: "bill", ItemID: entry.BillID,
				ErrorType: errorType(err), Message: err.Error(), OccurredAt: e.clock.Now(),
			})
			continue
		}
		if !changed {
			continue
		}
		e.syncBill(ctx, run, entry.BillID)
	}
}

func (e *Engine) hasChanged(ctx context.Context, entry upstream.MasterListEntry) (bool, error) {
	localHash, err := e.store.GetChangeHash(ctx, e.dataSource, entry.BillID)
	if err != nil {
		if errors.Is(err, legislation.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return localHash != entry.ChangeHash, nil
}

func (e *Engine) syncBill(ctx context.Context, run *legislation.SyncRun, billID string) {
	detail, err := e.client.GetBill(ctx, billID)
	if err != nil {
		run.Errors = append(run.Errors, legislation.SyncError{
			SyncRunID: run.ID, ItemType: "bill", ItemID: billID,
			ErrorType: errorType(err), Message: err.Error(), OccurredAt: e.clock.Now(),
		})
		return
	}

	// resolveTexts's billID argument only seeds BillText.BillID, a field
	// upsertText's SQL ignores in favor of the transaction-scoped surrogate
	// id; 0 is fine here since the real id isn't assigned until UpsertBill's
	// upsertBillRow step runs inside the same call.
	texts := e.resolveTexts(ctx, 0, detail.Texts)

	detail.Bill.DataSource = e.dataSource
	detail.Bill.ExternalID = billID
	_, isNew, err := e.store.UpsertBill(ctx, detail.Bill, detail.Sponsors, texts, detail.Amendments)
	if err != nil {
		run.Errors = append(run.Errors, legislation.SyncError{
			SyncRunID: run.ID, ItemType: "bill", ItemID: billID,
			ErrorType: errorType(err), Message: err.Error(), OccurredAt: e.clock.Now(),
		})
		return
	}

	if isNew {
		run.NewBills++
	} else {
		run.UpdatedBills++
	}
	run.AmendmentsTracked += len(detail.Amendments)
}

func errorType(err error) string {
	switch err.(type) {
	case *legislation.RateLimitError:
		return "RateLimitError"
	case *legislation.ApiError:
		return "ApiError"
	case *legislation.PersistenceError:
		return "PersistenceError"
	case *legislation.BillPersistenceError:
		return "BillPersistenceError"
	default:
		return "Error"
	}
}
