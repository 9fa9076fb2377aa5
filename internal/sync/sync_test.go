package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/upstream"
)

type fakeStore struct {
	changeHashes  map[string]string
	upserted      []legislation.Bill
	upsertedTexts [][]legislation.BillText
	finished      legislation.SyncRun
	upsertErr     map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{changeHashes: map[string]string{}, upsertErr: map[string]error{}}
}

func (f *fakeStore) UpsertBill(ctx context.Context, bill legislation.Bill, sponsors []legislation.BillSponsor, texts []legislation.BillText, amendments []legislation.Amendment) (legislation.Bill, bool, error) {
	if err, ok := f.upsertErr[bill.ExternalID]; ok {
		return legislation.Bill{}, false, err
	}
	isNew := f.changeHashes[bill.ExternalID] == ""
	f.changeHashes[bill.ExternalID] = bill.ChangeHash
	f.upserted = append(f.upserted, bill)
	f.upsertedTexts = append(f.upsertedTexts, texts)
	return bill, isNew, nil
}

func (f *fakeStore) GetChangeHash(ctx context.Context, dataSource, externalID string) (string, error) {
	h, ok := f.changeHashes[externalID]
	if !ok {
		return "", legislation.ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) CreateSyncRun(ctx context.Context, runType legislation.SyncRunType, startedAt time.Time) (legislation.SyncRun, error) {
	return legislation.SyncRun{ID: "run-1", Type: runType, Status: legislation.SyncPending, StartedAt: startedAt}, nil
}

func (f *fakeStore) FinishSyncRun(ctx context.Context, run legislation.SyncRun) error {
	f.finished = run
	return nil
}

type fakeClient struct {
	sessions    []upstream.Session
	masterList  map[string]map[string]upstream.MasterListEntry
	bills       map[string]upstream.BillDetail
	billErr     map[string]error
	fetchResult map[string]upstream.FetchResult
}

func (f *fakeClient) GetSessionList(ctx context.Context, stateCode string) ([]upstream.Session, error) {
	return f.sessions, nil
}
func (f *fakeClient) GetMasterListRaw(ctx context.Context, sessionID string) (map[string]upstream.MasterListEntry, error) {
	return f.masterList[sessionID], nil
}
func (f *fakeClient) GetBill(ctx context.Context, billID string) (upstream.BillDetail, error) {
	if err, ok := f.billErr[billID]; ok {
		return upstream.BillDetail{}, err
	}
	return f.bills[billID], nil
}
func (f *fakeClient) GetBillText(ctx context.Context, docID string) ([]byte, error) { return nil, nil }
func (f *fakeClient) SearchRaw(ctx context.Context, state, query string, year int) ([]upstream.SearchResult, error) {
	return nil, nil
}
func (f *fakeClient) FetchURL(ctx context.Context, stateLink string) (upstream.FetchResult, error) {
	return f.fetchResult[stateLink], nil
}

func TestRunSyncSkipsUnchangedBills(t *testing.T) {
	store := newFakeStore()
	store.changeHashes["HB1"] = "hash-a"
	client := &fakeClient{
		sessions: []upstream.Session{{ID: "s1", State: "TX", YearEnd: time.Now().Year(), SineDie: false}},
		masterList: map[string]map[string]upstream.MasterListEntry{
			"s1": {"0": {}, "1": {BillID: "HB1", ChangeHash: "hash-a"}},
		},
	}
	e := New(store, client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	summary, err := e.RunSync(context.Background(), legislation.SyncManual)
	require.NoError(t, err)
	assert.Equal(t, legislation.SyncCompleted, summary.Run.Status)
	assert.Equal(t, 0, summary.Run.NewBills)
	assert.Empty(t, store.upserted)
}

func TestRunSyncUpsertsChangedBillAndClassifiesNew(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		sessions: []upstream.Session{{ID: "s1", State: "TX", YearEnd: time.Now().Year(), SineDie: false}},
		masterList: map[string]map[string]upstream.MasterListEntry{
			"s1": {"1": {BillID: "HB1", ChangeHash: "hash-new"}},
		},
		bills: map[string]upstream.BillDetail{
			"HB1": {Bill: legislation.Bill{Title: "An act", ChangeHash: "hash-new"}},
		},
	}
	e := New(store, client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	summary, err := e.RunSync(context.Background(), legislation.SyncManual)
	require.NoError(t, err)
	assert.Equal(t, legislation.SyncCompleted, summary.Run.Status)
	assert.Equal(t, 1, summary.Run.NewBills)
	assert.Len(t, store.upserted, 1)
}

func TestRunSyncRecordsPerBillErrorAndMarksPartial(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		sessions: []upstream.Session{{ID: "s1", State: "TX", YearEnd: time.Now().Year(), SineDie: false}},
		masterList: map[string]map[string]upstream.MasterListEntry{
			"s1": {"1": {BillID: "HB1", ChangeHash: "hash-new"}},
		},
		billErr: map[string]error{"HB1": assertableErr{"boom"}},
	}
	e := New(store, client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	summary, err := e.RunSync(context.Background(), legislation.SyncManual)
	require.NoError(t, err)
	assert.Equal(t, legislation.SyncPartial, summary.Run.Status)
	require.Len(t, summary.Run.Errors, 1)
	assert.Equal(t, "HB1", summary.Run.Errors[0].ItemID)
}

func TestRunSyncSkipsSessionsThatHaveEnded(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		sessions: []upstream.Session{{ID: "s1", State: "TX", YearEnd: time.Now().Year() - 5, SineDie: true}},
		masterList: map[string]map[string]upstream.MasterListEntry{
			"s1": {"1": {BillID: "HB1", ChangeHash: "hash-new"}},
		},
	}
	e := New(store, client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	summary, err := e.RunSync(context.Background(), legislation.SyncManual)
	require.NoError(t, err)
	assert.Empty(t, store.upserted)
	assert.Equal(t, legislation.SyncCompleted, summary.Run.Status)
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }

func TestSyncBillPersistsEveryResolvedTextVersion(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		sessions: []upstream.Session{{ID: "s1", State: "TX", YearEnd: time.Now().Year(), SineDie: false}},
		masterList: map[string]map[string]upstream.MasterListEntry{
			"s1": {"1": {BillID: "HB1", ChangeHash: "hash-new"}},
		},
		bills: map[string]upstream.BillDetail{
			"HB1": {
				Bill: legislation.Bill{Title: "An act", ChangeHash: "hash-new"},
				Texts: []upstream.RawBillText{
					{VersionNumber: 1, TextType: "Introduced", StateLink: "https://example.test/v1"},
					{VersionNumber: 2, TextType: "Engrossed", StateLink: "https://example.test/v2"},
				},
			},
		},
		fetchResult: map[string]upstream.FetchResult{
			"https://example.test/v1": {Bytes: []byte("version one body"), MimeHint: "text/plain"},
			"https://example.test/v2": {Bytes: []byte("version two body"), MimeHint: "text/plain"},
		},
	}
	e := New(store, client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	summary, err := e.RunSync(context.Background(), legislation.SyncManual)
	require.NoError(t, err)
	assert.Equal(t, legislation.SyncCompleted, summary.Run.Status)
	require.Len(t, store.upserted, 1)
	require.Len(t, store.upsertedTexts, 1)
	assert.Len(t, store.upsertedTexts[0], 2, "every text version must reach UpsertBill, not just the highest")
	assert.Equal(t, "version one body", store.upsertedTexts[0][0].AsText())
	assert.Equal(t, "version two body", store.upsertedTexts[0][1].AsText())
}

func TestResolveTextPrefersStateLinkFetchOverDoc64(t *testing.T) {
	client := &fakeClient{
		fetchResult: map[string]upstream.FetchResult{
			"https://example.test/doc": {Bytes: []byte("fetched plain text"), MimeHint: "text/plain"},
		},
	}
	e := New(newFakeStore(), client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	raw := upstream.RawBillText{
		VersionNumber: 2,
		TextType:      "Engrossed",
		StateLink:     "https://example.test/doc",
		Doc:           "ZmFsbGJhY2sgZG9j", // "fallback doc" - must be ignored
	}
	resolved := e.resolveText(context.Background(), 1, raw)
	assert.Equal(t, "fetched plain text", resolved.AsText())
	assert.False(t, resolved.IsBinary)
}

func TestResolveTextPrefersStateLinkPDFAsBinary(t *testing.T) {
	client := &fakeClient{
		fetchResult: map[string]upstream.FetchResult{
			"https://example.test/doc.pdf": {Bytes: []byte("%PDF-1.4 fake bytes"), MimeHint: "application/pdf"},
		},
	}
	e := New(newFakeStore(), client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	raw := upstream.RawBillText{VersionNumber: 3, TextType: "Engrossed", StateLink: "https://example.test/doc.pdf"}
	resolved := e.resolveText(context.Background(), 1, raw)
	assert.True(t, resolved.IsBinary)
	assert.Equal(t, "application/pdf", resolved.ContentType)
}

func TestResolveTextFallsBackToDoc64ForVersionOne(t *testing.T) {
	client := &fakeClient{}
	e := New(newFakeStore(), client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	raw := upstream.RawBillText{VersionNumber: 1, TextType: "Introduced", Doc: "dmVyc2lvbiBvbmUgdGV4dA=="} // "version one text"
	resolved := e.resolveText(context.Background(), 1, raw)
	assert.Equal(t, "version one text", resolved.AsText())
	assert.False(t, resolved.IsBinary)
}

func TestResolveTextFallsBackToDoc64ForEnrolledType(t *testing.T) {
	client := &fakeClient{}
	e := New(newFakeStore(), client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	raw := upstream.RawBillText{VersionNumber: 5, TextType: "Enrolled", Doc: "JVBERi1mYWtl"} // base64("%PDF-fake")
	resolved := e.resolveText(context.Background(), 1, raw)
	assert.True(t, resolved.IsBinary)
	assert.Equal(t, "application/pdf", resolved.ContentType)
}

func TestResolveTextNonQualifyingVersionWithNoStateLinkIgnoresDoc(t *testing.T) {
	client := &fakeClient{}
	e := New(newFakeStore(), client, Config{DataSource: "legiscan", Jurisdictions: []string{"TX"}})

	// version 4 / "Engrossed" doesn't qualify for the forced doc64 fallback,
	// and there's no stateLink, but the doc is still attempted as the only
	// available source once the stateLink path is exhausted.
	raw := upstream.RawBillText{VersionNumber: 4, TextType: "Engrossed", Doc: "ZW5ncm9zc2VkIHRleHQ="} // "engrossed text"
	resolved := e.resolveText(context.Background(), 1, raw)
	assert.Equal(t, "engrossed text", resolved.AsText())
}
