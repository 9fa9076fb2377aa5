// Package store is the pgx-backed persistence layer for Bill and its
// children (spec.md §4.8), grounded on manifold's
// internal/persistence/databases postgres stores: schema-in-code via
// CREATE TABLE IF NOT EXISTS, pgx.ErrNoRows wrapped into a domain sentinel,
// and UUID identity for process-local event rows.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/relevance"
)

// Store is the BillStore contract (spec.md §4.8).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool. Callers are responsible for its
// lifecycle (Close).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the schema if it does not already exist. Safe to call on
// every process start.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bills (
    id BIGSERIAL PRIMARY KEY,
    data_source TEXT NOT NULL,
    external_id TEXT NOT NULL,
    government_type TEXT NOT NULL,
    government_source TEXT NOT NULL,
    bill_number TEXT NOT NULL,
    bill_type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    state_link TEXT NOT NULL DEFAULT '',
    change_hash TEXT NOT NULL DEFAULT '',
    cost_estimate TEXT NOT NULL DEFAULT '',
    introduced_date TIMESTAMPTZ,
    last_action_date TIMESTAMPTZ,
    status_date TIMESTAMPTZ,
    last_api_check TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (data_source, external_id)
);

CREATE TABLE IF NOT EXISTS bill_texts (
    bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
    version_number INT NOT NULL,
    text_type TEXT NOT NULL DEFAULT '',
    text_date TIMESTAMPTZ,
    text_hash TEXT NOT NULL DEFAULT '',
    is_binary BOOLEAN NOT NULL DEFAULT FALSE,
    content_type TEXT NOT NULL DEFAULT 'text/plain',
    size_bytes BIGINT NOT NULL DEFAULT 0,
    content BYTEA NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (bill_id, version_number)
);

CREATE TABLE IF NOT EXISTS bill_sponsors (
    bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
    people_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT '',
    district TEXT NOT NULL DEFAULT '',
    party TEXT NOT NULL DEFAULT '',
    sponsor_type TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS bill_sponsors_bill_idx ON bill_sponsors(bill_id);

CREATE TABLE IF NOT EXISTS amendments (
    bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
    amendment_external_id TEXT NOT NULL,
    adopted BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL,
    date TIMESTAMPTZ,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    hash TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (bill_id, amendment_external_id)
);

CREATE TABLE IF NOT EXISTS analyses (
    bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
    version INT NOT NULL,
    is_current BOOLEAN NOT NULL DEFAULT FALSE,
    analysis_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    model_version TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL,
    impact_category TEXT NOT NULL DEFAULT '',
    impact_level TEXT NOT NULL DEFAULT '',
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    insufficient_text BOOLEAN NOT NULL DEFAULT FALSE,
    raw_payload JSONB NOT NULL DEFAULT '{}',
    processing_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    model_calls INT NOT NULL DEFAULT 0,
    PRIMARY KEY (bill_id, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS analyses_current_idx ON analyses(bill_id) WHERE is_current;

CREATE TABLE IF NOT EXISTS priorities (
    bill_id BIGINT PRIMARY KEY REFERENCES bills(id) ON DELETE CASCADE,
    public_health_relevance INT NOT NULL DEFAULT 0,
    local_gov_relevance INT NOT NULL DEFAULT 0,
    overall_priority INT NOT NULL DEFAULT 0,
    auto_categorized BOOLEAN NOT NULL DEFAULT FALSE,
    notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
    feedback_score INT
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id UUID PRIMARY KEY,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    new_bills INT NOT NULL DEFAULT 0,
    updated_bills INT NOT NULL DEFAULT 0,
    amendments_tracked INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_errors (
    sync_run_id UUID NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
    item_type TEXT NOT NULL,
    item_id TEXT NOT NULL,
    error_type TEXT NOT NULL,
    message TEXT NOT NULL,
    stack_excerpt TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS sync_errors_run_idx ON sync_errors(sync_run_id);
`)
	return err
}

// UpsertBill inserts or updates a Bill and, in the same transaction, its
// sponsors (replace wholesale), every BillText version passed in, and the
// Priority row computed via RelevanceScorer. texts is never truncated to a
// single version: spec.md §3 requires every BillText persisted, keyed on
// (billId, versionNumber), and never deleted during sync. Returns the
// persisted bill (with id and timestamps populated) and whether it was
// newly created.
func (s *Store) UpsertBill(ctx context.Context, bill legislation.Bill, sponsors []legislation.BillSponsor, texts []legislation.BillText, amendments []legislation.Amendment) (legislation.Bill, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "begin", Err: err}}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	persisted, isNew, err := upsertBillRow(ctx, tx, bill, now)
	if err != nil {
		return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "upsert_bill", Err: err}}
	}

	if err := replaceSponsors(ctx, tx, persisted.ID, sponsors); err != nil {
		return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "replace_sponsors", Err: err}}
	}

	ordered := append([]legislation.BillText(nil), texts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].VersionNumber < ordered[j].VersionNumber })
	for _, text := range ordered {
		if err := upsertText(ctx, tx, persisted.ID, text); err != nil {
			return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "upsert_text", Err: err}}
		}
	}

	for _, a := range amendments {
		if err := upsertAmendment(ctx, tx, persisted.ID, a); err != nil {
			return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "upsert_amendment", Err: err}}
		}
	}

	score := relevance.Calculate(persisted.Title, persisted.Description)
	if err := upsertPriority(ctx, tx, persisted.ID, score); err != nil {
		return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "upsert_priority", Err: err}}
	}

	if err := tx.Commit(ctx); err != nil {
		return legislation.Bill{}, false, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "commit", Err: err}}
	}
	return persisted, isNew, nil
}

func upsertBillRow(ctx context.Context, tx pgx.Tx, bill legislation.Bill, now time.Time) (legislation.Bill, bool, error) {
	row := tx.QueryRow(ctx, `
INSERT INTO bills (data_source, external_id, government_type, government_source, bill_number,
    bill_type, title, description, status, url, state_link, change_hash, cost_estimate,
    introduced_date, last_action_date, status_date, last_api_check, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
ON CONFLICT (data_source, external_id) DO UPDATE SET
    government_type = EXCLUDED.government_type,
    government_source = EXCLUDED.government_source,
    bill_number = EXCLUDED.bill_number,
    bill_type = EXCLUDED.bill_type,
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    status = EXCLUDED.status,
    url = EXCLUDED.url,
    state_link = EXCLUDED.state_link,
    change_hash = EXCLUDED.change_hash,
    cost_estimate = EXCLUDED.cost_estimate,
    introduced_date = EXCLUDED.introduced_date,
    last_action_date = EXCLUDED.last_action_date,
    status_date = EXCLUDED.status_date,
    last_api_check = EXCLUDED.last_api_check,
    updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`,
		bill.DataSource, bill.ExternalID, string(bill.GovernmentType), bill.GovernmentSource, bill.BillNumber,
		bill.BillType, bill.Title, bill.Description, string(bill.Status), bill.URL, bill.StateLink, bill.ChangeHash, bill.CostEstimate,
		bill.IntroducedDate, bill.LastActionDate, bill.StatusDate, bill.LastAPICheck, now)

	var id int64
	var createdAt, updatedAt time.Time
	if err := row.Scan(&id, &createdAt, &updatedAt); err != nil {
		return legislation.Bill{}, false, err
	}
	persisted := bill
	persisted.ID = id
	persisted.CreatedAt = createdAt
	persisted.UpdatedAt = updatedAt
	// Classification per spec.md §4.9: new iff createdAt == updatedAt.
	isNew := createdAt.Equal(updatedAt)
	return persisted, isNew, nil
}

func replaceSponsors(ctx context.Context, tx pgx.Tx, billID int64, sponsors []legislation.BillSponsor) error {
	if _, err := tx.Exec(ctx, `DELETE FROM bill_sponsors WHERE bill_id = $1`, billID); err != nil {
		return err
	}
	for _, sp := range sponsors {
		if _, err := tx.Exec(ctx, `
INSERT INTO bill_sponsors (bill_id, people_id, name, role, district, party, sponsor_type)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			billID, sp.PeopleID, sp.Name, sp.Role, sp.District, sp.Party, sp.SponsorType); err != nil {
			return err
		}
	}
	return nil
}

func upsertText(ctx context.Context, tx pgx.Tx, billID int64, text legislation.BillText) error {
	_, err := tx.Exec(ctx, `
INSERT INTO bill_texts (bill_id, version_number, text_type, text_date, text_hash, is_binary, content_type, size_bytes, content)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (bill_id, version_number) DO UPDATE SET
    text_type = EXCLUDED.text_type,
    text_date = EXCLUDED.text_date,
    text_hash = EXCLUDED.text_hash,
    is_binary = EXCLUDED.is_binary,
    content_type = EXCLUDED.content_type,
    size_bytes = EXCLUDED.size_bytes,
    content = EXCLUDED.content`,
		billID, text.VersionNumber, text.TextType, text.TextDate, text.TextHash, text.IsBinary, text.ContentType, text.SizeBytes, text.Content)
	return err
}

func upsertAmendment(ctx context.Context, tx pgx.Tx, billID int64, a legislation.Amendment) error {
	if a.AmendmentExternalID == "" {
		// Amendments without an external id are dropped silently.
		return nil
	}
	_, err := tx.Exec(ctx, `
INSERT INTO amendments (bill_id, amendment_external_id, adopted, status, date, title, description, hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (bill_id, amendment_external_id) DO UPDATE SET
    adopted = EXCLUDED.adopted,
    status = EXCLUDED.status,
    date = EXCLUDED.date,
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    hash = EXCLUDED.hash`,
		billID, a.AmendmentExternalID, a.Adopted, string(a.Status), a.Date, a.Title, a.Description, a.Hash)
	return err
}

func upsertPriority(ctx context.Context, tx pgx.Tx, billID int64, score relevance.Score) error {
	_, err := tx.Exec(ctx, `
INSERT INTO priorities (bill_id, public_health_relevance, local_gov_relevance, overall_priority, auto_categorized)
VALUES ($1,$2,$3,$4,TRUE)
ON CONFLICT (bill_id) DO UPDATE SET
    public_health_relevance = EXCLUDED.public_health_relevance,
    local_gov_relevance = EXCLUDED.local_gov_relevance,
    overall_priority = EXCLUDED.overall_priority,
    auto_categorized = TRUE`,
		billID, score.PublicHealthRelevance, score.LocalGovRelevance, score.OverallPriority)
	return err
}

// GetBillByExternalID looks up a bill by its natural key, returning
// legislation.ErrNotFound when absent.
func (s *Store) GetBillByExternalID(ctx context.Context, dataSource, externalID string) (legislation.Bill, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, data_source, external_id, government_type, government_source, bill_number, bill_type,
    title, description, status, url, state_link, change_hash, cost_estimate,
    introduced_date, last_action_date, status_date, last_api_check, created_at, updated_at
FROM bills WHERE data_source = $1 AND external_id = $2`, dataSource, externalID)

	bill, err := scanBill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return legislation.Bill{}, legislation.ErrNotFound
		}
		return legislation.Bill{}, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "get_bill", Err: err}}
	}
	return bill, nil
}

// GetBill looks up a bill by surrogate id, returning legislation.ErrNotFound
// when absent.
func (s *Store) GetBill(ctx context.Context, billID int64) (legislation.Bill, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, data_source, external_id, government_type, government_source, bill_number, bill_type,
    title, description, status, url, state_link, change_hash, cost_estimate,
    introduced_date, last_action_date, status_date, last_api_check, created_at, updated_at
FROM bills WHERE id = $1`, billID)

	bill, err := scanBill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return legislation.Bill{}, legislation.ErrNotFound
		}
		return legislation.Bill{}, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "get_bill", Err: err}}
	}
	return bill, nil
}

func scanBill(row pgx.Row) (legislation.Bill, error) {
	var b legislation.Bill
	var governmentType, status string
	err := row.Scan(&b.ID, &b.DataSource, &b.ExternalID, &governmentType, &b.GovernmentSource, &b.BillNumber, &b.BillType,
		&b.Title, &b.Description, &status, &b.URL, &b.StateLink, &b.ChangeHash, &b.CostEstimate,
		&b.IntroducedDate, &b.LastActionDate, &b.StatusDate, &b.LastAPICheck, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return legislation.Bill{}, err
	}
	b.GovernmentType = legislation.GovernmentType(governmentType)
	b.Status = legislation.BillStatus(status)
	return b, nil
}

// GetLatestText returns the highest-versioned BillText for billID.
func (s *Store) GetLatestText(ctx context.Context, billID int64) (legislation.BillText, error) {
	row := s.pool.QueryRow(ctx, `
SELECT bill_id, version_number, text_type, text_date, text_hash, is_binary, content_type, size_bytes, content
FROM bill_texts WHERE bill_id = $1 ORDER BY version_number DESC LIMIT 1`, billID)

	var t legislation.BillText
	err := row.Scan(&t.BillID, &t.VersionNumber, &t.TextType, &t.TextDate, &t.TextHash, &t.IsBinary, &t.ContentType, &t.SizeBytes, &t.Content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return legislation.BillText{}, legislation.ErrNotFound
		}
		return legislation.BillText{}, &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "get_latest_text", Err: err}}
	}
	return t, nil
}

// GetChangeHash returns the locally stored change hash for (dataSource,
// externalID), or ("", legislation.ErrNotFound) if the bill is not known
// locally yet - the signal SyncEngine uses to classify an upstream id as
// new.
func (s *Store) GetChangeHash(ctx context.Context, dataSource, externalID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT change_hash FROM bills WHERE data_source = $1 AND external_id = $2`, dataSource, externalID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", legislation.ErrNotFound
		}
		return "", &legislation.BillPersistenceError{PersistenceError: legislation.PersistenceError{Op: "get_change_hash", Err: err}}
	}
	return hash, nil
}

// InsertAnalysis writes a new Analysis version transactionally, demoting
// the previous current version and updating Priority in the same
// transaction, per spec.md §4.10 step 6.
func (s *Store) InsertAnalysis(ctx context.Context, a legislation.Analysis) (legislation.Analysis, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxVersion int
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM analyses WHERE bill_id = $1`, a.BillID).Scan(&maxVersion)
	if err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "max_version", Err: err}
	}
	a.Version = maxVersion + 1
	a.IsCurrent = true

	if _, err := tx.Exec(ctx, `UPDATE analyses SET is_current = FALSE WHERE bill_id = $1 AND is_current`, a.BillID); err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "demote_current", Err: err}
	}

	payload := legislation.MarshalRaw(toStructured(a))
	if _, err := tx.Exec(ctx, `
INSERT INTO analyses (bill_id, version, is_current, analysis_date, model_version, payload,
    impact_category, impact_level, confidence_score, insufficient_text, raw_payload,
    processing_time_seconds, model_calls)
VALUES ($1,$2,TRUE,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.BillID, a.Version, a.AnalysisDate, a.ModelVersion, payload,
		string(a.ImpactCategory), string(a.ImpactLevel), a.ConfidenceScore, a.InsufficientText, a.RawPayload,
		a.ProcessingTimeSeconds, a.ModelCalls); err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "insert_analysis", Err: err}
	}

	var title, description string
	if err := tx.QueryRow(ctx, `SELECT title, description FROM bills WHERE id = $1`, a.BillID).Scan(&title, &description); err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "load_bill", Err: err}
	}
	if err := upsertPriority(ctx, tx, a.BillID, relevance.Calculate(title, description)); err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "upsert_priority", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return legislation.Analysis{}, &legislation.PersistenceError{Op: "commit", Err: err}
	}
	return a, nil
}

func toStructured(a legislation.Analysis) legislation.StructuredAnalysis {
	var kps []legislation.SchemaKeyPoint
	for _, kp := range a.KeyPoints {
		kps = append(kps, legislation.SchemaKeyPoint{Point: kp.Point, ImpactType: kp.ImpactType})
	}
	return legislation.StructuredAnalysis{
		Summary:   a.Summary,
		KeyPoints: kps,
		ImpactSummary: legislation.SchemaImpactSummary{
			PrimaryCategory:  string(a.ImpactCategory),
			ImpactLevel:      string(a.ImpactLevel),
			RelevanceToTexas: a.RelevanceToTexas,
		},
	}
}

// CreateSyncRun inserts a new SyncRun row with status pending and a
// freshly generated UUID id.
func (s *Store) CreateSyncRun(ctx context.Context, runType legislation.SyncRunType, startedAt time.Time) (legislation.SyncRun, error) {
	id := uuid.New().String()
	run := legislation.SyncRun{ID: id, Type: runType, Status: legislation.SyncPending, StartedAt: startedAt}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sync_runs (id, type, status, started_at) VALUES ($1,$2,$3,$4)`,
		run.ID, string(run.Type), string(run.Status), run.StartedAt)
	if err != nil {
		return legislation.SyncRun{}, &legislation.PersistenceError{Op: "create_sync_run", Err: err}
	}
	return run, nil
}

// FinishSyncRun updates status/counters/finishedAt and persists up to 5
// SyncError samples, per spec.md §4.9 step 4.
func (s *Store) FinishSyncRun(ctx context.Context, run legislation.SyncRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &legislation.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
UPDATE sync_runs SET status=$1, finished_at=$2, new_bills=$3, updated_bills=$4, amendments_tracked=$5
WHERE id=$6`,
		string(run.Status), run.FinishedAt, run.NewBills, run.UpdatedBills, run.AmendmentsTracked, run.ID); err != nil {
		return &legislation.PersistenceError{Op: "finish_sync_run", Err: err}
	}

	samples := run.Errors
	if len(samples) > 5 {
		samples = samples[:5]
	}
	for _, e := range samples {
		if _, err := tx.Exec(ctx, `
INSERT INTO sync_errors (sync_run_id, item_type, item_id, error_type, message, stack_excerpt, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			run.ID, e.ItemType, e.ItemID, e.ErrorType, e.Message, e.StackExcerpt, e.OccurredAt); err != nil {
			return &legislation.PersistenceError{Op: "insert_sync_error", Err: err}
		}
	}
	return tx.Commit(ctx)
}
