package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

func TestHTTPClientGetSessionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getSessionList", r.URL.Query().Get("op"))
		assert.Equal(t, "TX", r.URL.Query().Get("state"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":[{"sessionId":"1234","sessionName":"89th Legislature","yearStart":2025,"yearEnd":2026,"sineDie":0}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	sessions, err := c.GetSessionList(context.Background(), "TX")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "1234", sessions[0].ID)
	assert.Equal(t, "TX", sessions[0].State)
	assert.Equal(t, 2026, sessions[0].YearEnd)
	assert.False(t, sessions[0].SineDie)
}

func TestHTTPClientGetMasterListRawSkipsMetadataKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"0":{"session":"meta"},"1":{"billId":555,"changeHash":"abc123"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	entries, err := c.GetMasterListRaw(context.Background(), "1234")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "555", entries["1"].BillID)
	assert.Equal(t, "abc123", entries["1"].ChangeHash)
}

func TestHTTPClientGetBillMapsStatusAndTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"billId": 42,
			"state": "TX",
			"billNumber": "HB1",
			"title": "An act",
			"status": 4,
			"statusDate": "2026-01-15",
			"sponsors": [{"peopleId": 7, "name": "Jane Doe", "role": "primary"}],
			"texts": [{"docId": 1001, "version": 1, "type": "Introduced", "date": "2026-01-01", "mimeId": 2, "state_link": "https://example.test/v1.pdf"}],
			"amendments": [{"amendmentId": 2001, "date": "2026-01-10", "adopted": 1, "title": "Amendment 1"}]
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	detail, err := c.GetBill(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", detail.Bill.ExternalID)
	assert.Equal(t, legislation.StatusPassed, detail.Bill.Status)
	require.Len(t, detail.Sponsors, 1)
	assert.Equal(t, "Jane Doe", detail.Sponsors[0].Name)
	require.Len(t, detail.Texts, 1)
	assert.Equal(t, "https://example.test/v1.pdf", detail.Texts[0].StateLink)
	require.Len(t, detail.Amendments, 1)
	assert.True(t, detail.Amendments[0].Adopted)
}

func TestHTTPClientFetchURLPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("plain body text"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	result, err := c.FetchURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", result.MimeHint)
	assert.Equal(t, "plain body text", string(result.Bytes))
}

func TestHTTPClientFetchURLPDFReturnsBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake content"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	result, err := c.FetchURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.MimeHint)
	assert.True(t, strings.HasPrefix(string(result.Bytes), "%PDF-"))
}

func TestHTTPClientFetchURLHTMLExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Bill Text</title></head><body><article><p>` + strings.Repeat("Section text content here. ", 50) + `</p></article></body></html>`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	result, err := c.FetchURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "text/html", result.MimeHint)
	assert.Contains(t, string(result.Bytes), "Section text content")
}

func TestHTTPClientPropagatesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.GetSessionList(context.Background(), "TX")
	require.Error(t, err)
	var apiErr *legislation.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable())
}
