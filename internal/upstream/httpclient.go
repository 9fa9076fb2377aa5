package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

// HTTPClient is a LegiScan-style Client implementation (spec.md §6's wire
// shapes), grounded on manifold's internal/tools/web.Fetcher for the
// hardened http.Client construction, charset-aware UTF-8 decoding, and
// readability-based article extraction FetchURL needs.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPClient builds an HTTPClient against baseURL (the upstream API
// root). apiKey is sent as a query parameter on every request, matching
// LegiScan's key-in-query authentication style.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPClient{
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

const maxFetchBytes = 8 * 1000 * 1000

type sessionListWire struct {
	Sessions []struct {
		SessionID   string `json:"sessionId"`
		SessionName string `json:"sessionName"`
		YearStart   int    `json:"yearStart"`
		YearEnd     int    `json:"yearEnd"`
		SineDie     int    `json:"sineDie"`
	} `json:"sessions"`
}

func (c *HTTPClient) GetSessionList(ctx context.Context, stateCode string) ([]Session, error) {
	var wire sessionListWire
	if err := c.getJSON(ctx, "getSessionList", map[string]string{"state": stateCode}, &wire); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(wire.Sessions))
	for _, s := range wire.Sessions {
		out = append(out, Session{
			ID:      s.SessionID,
			State:   stateCode,
			Name:    s.SessionName,
			YearEnd: s.YearEnd,
			SineDie: s.SineDie != 0,
		})
	}
	return out, nil
}

func (c *HTTPClient) GetMasterListRaw(ctx context.Context, sessionID string) (map[string]MasterListEntry, error) {
	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, "getMasterListRaw", map[string]string{"id": sessionID}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]MasterListEntry, len(raw))
	for key, msg := range raw {
		if key == "0" {
			continue
		}
		var entry struct {
			BillID     json.Number `json:"billId"`
			ChangeHash string      `json:"changeHash"`
		}
		if err := json.Unmarshal(msg, &entry); err != nil {
			continue
		}
		out[key] = MasterListEntry{BillID: entry.BillID.String(), ChangeHash: entry.ChangeHash}
	}
	return out, nil
}

type billWire struct {
	BillID         json.Number `json:"billId"`
	State          string      `json:"state"`
	BillNumber     string      `json:"billNumber"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Status         int         `json:"status"`
	StatusDate     string      `json:"statusDate"`
	IntroducedDate string      `json:"introducedDate"`
	LastActionDate string      `json:"lastActionDate"`
	URL            string      `json:"url"`
	StateLink      string      `json:"state_link"`
	ChangeHash     string      `json:"change_hash"`
	Sponsors       []struct {
		PeopleID    json.Number `json:"peopleId"`
		Name        string      `json:"name"`
		Role        string      `json:"role"`
		District    string      `json:"district"`
		Party       string      `json:"party"`
		SponsorType string      `json:"sponsorType"`
	} `json:"sponsors"`
	Texts []struct {
		DocID     json.Number `json:"docId"`
		Version   int         `json:"version"`
		Type      string      `json:"type"`
		Date      string      `json:"date"`
		MimeID    int         `json:"mimeId"`
		TextHash  string      `json:"text_hash"`
		StateLink string      `json:"state_link"`
		Doc       string      `json:"doc"`
	} `json:"texts"`
	Amendments []struct {
		AmendmentID     json.Number `json:"amendmentId"`
		Date            string      `json:"date"`
		Adopted         int         `json:"adopted"`
		Title           string      `json:"title"`
		Description     string      `json:"description"`
		AmendmentHash   string      `json:"amendment_hash"`
		StateLink       string      `json:"state_link"`
	} `json:"amendments"`
}

var statusCodeToEnum = map[int]legislation.BillStatus{
	1: legislation.StatusIntroduced,
	2: legislation.StatusUpdated,
	3: legislation.StatusUpdated,
	4: legislation.StatusPassed,
	5: legislation.StatusVetoed,
	6: legislation.StatusDefeated,
	7: legislation.StatusEnacted,
}

func (c *HTTPClient) GetBill(ctx context.Context, billID string) (BillDetail, error) {
	var wire billWire
	if err := c.getJSON(ctx, "getBill", map[string]string{"id": billID}, &wire); err != nil {
		return BillDetail{}, err
	}

	status, ok := statusCodeToEnum[wire.Status]
	if !ok {
		status = legislation.StatusUpdated
	}

	detail := BillDetail{
		Bill: legislation.Bill{
			ExternalID:       wire.BillID.String(),
			GovernmentSource: wire.State,
			BillNumber:       wire.BillNumber,
			Title:            wire.Title,
			Description:      wire.Description,
			Status:           status,
			URL:              wire.URL,
			StateLink:        wire.StateLink,
			ChangeHash:       wire.ChangeHash,
			StatusDate:       parseUpstreamDate(wire.StatusDate),
			IntroducedDate:   parseUpstreamDate(wire.IntroducedDate),
			LastActionDate:   parseUpstreamDate(wire.LastActionDate),
		},
	}
	for _, sp := range wire.Sponsors {
		peopleID, _ := strconv.ParseInt(sp.PeopleID.String(), 10, 64)
		detail.Sponsors = append(detail.Sponsors, legislation.BillSponsor{
			PeopleID: peopleID, Name: sp.Name, Role: sp.Role,
			District: sp.District, Party: sp.Party, SponsorType: sp.SponsorType,
		})
	}
	for _, t := range wire.Texts {
		detail.Texts = append(detail.Texts, RawBillText{
			DocID: t.DocID.String(), VersionNumber: t.Version, TextType: t.Type,
			Date: t.Date, MimeID: t.MimeID, TextHash: t.TextHash,
			StateLink: t.StateLink, Doc: t.Doc,
		})
	}
	for _, a := range wire.Amendments {
		detail.Amendments = append(detail.Amendments, legislation.Amendment{
			AmendmentExternalID: a.AmendmentID.String(),
			Date:                parseUpstreamDate(a.Date),
			Adopted:             a.Adopted != 0,
			Title:               a.Title,
			Description:         a.Description,
			Hash:                a.AmendmentHash,
		})
	}
	return detail, nil
}

func (c *HTTPClient) GetBillText(ctx context.Context, docID string) ([]byte, error) {
	resp, err := c.do(ctx, "getBillText", map[string]string{"id": docID})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
}

type searchWire struct {
	Results []struct {
		BillID json.Number `json:"billId"`
		Title  string      `json:"title"`
		Score  float64     `json:"score"`
	} `json:"results"`
}

func (c *HTTPClient) SearchRaw(ctx context.Context, state, query string, year int) ([]SearchResult, error) {
	var wire searchWire
	params := map[string]string{"state": state, "query": query, "year": strconv.Itoa(year)}
	if err := c.getJSON(ctx, "search", params, &wire); err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(wire.Results))
	for _, r := range wire.Results {
		out = append(out, SearchResult{BillID: r.BillID.String(), Title: r.Title, Score: r.Score})
	}
	return out, nil
}

// FetchURL retrieves stateLink, decodes it to UTF-8 using the response's
// declared charset, and for HTML content runs go-shiori/go-readability's
// article extraction before returning the result's best-effort MIME hint.
// PDFs and other binary content are returned as raw bytes with their
// Content-Type passed through verbatim.
func (c *HTTPClient) FetchURL(ctx context.Context, stateLink string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stateLink, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return FetchResult{}, &legislation.ApiError{Source: "upstream", StatusCode: resp.StatusCode, Message: fmt.Sprintf("fetch %s", stateLink)}
	}

	ct, cs := parseContentType(resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return FetchResult{}, err
	}
	if int64(len(body)) > maxFetchBytes {
		return FetchResult{}, fmt.Errorf("fetch %s: response exceeds max bytes", stateLink)
	}

	if ct == "application/pdf" {
		return FetchResult{Bytes: body, MimeHint: "application/pdf"}, nil
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return FetchResult{}, fmt.Errorf("charset decode: %w", err)
	}

	if isHTML(ct) {
		finalURL := resp.Request.URL.String()
		base, _ := url.Parse(finalURL)
		if art, rerr := readability.FromReader(bytes.NewReader(utf8Body), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
			return FetchResult{Bytes: []byte(art.Content), MimeHint: "text/html"}, nil
		}
		return FetchResult{Bytes: utf8Body, MimeHint: "text/html"}, nil
	}

	if ct == "" {
		ct = "text/plain"
	}
	return FetchResult{Bytes: utf8Body, MimeHint: ct}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, op string, params map[string]string, out any) error {
	resp, err := c.do(ctx, op, params)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) do(ctx context.Context, op string, params map[string]string) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("op", op)
	q.Set("key", c.apiKey)
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, &legislation.ApiError{Source: "upstream", StatusCode: resp.StatusCode, Message: op}
	}
	return resp, nil
}

func parseContentType(h string) (ctype, charsetLabel string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return h, ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "html")
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func parseUpstreamDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
