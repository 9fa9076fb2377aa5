package sync

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/textutil"
	"github.com/aphchrisc/policypulse/internal/upstream"
)

// textTypesForcingDoc64 names the textType values that always fall back to
// the base64 doc payload even when a stateLink is present, per spec.md
// §4.8's text acquisition policy.
var textTypesForcingDoc64 = map[string]bool{
	"Enrolled":  true,
	"Chaptered": true,
}

// mimeIDPDF is LegiScan's mimeId for application/pdf (spec.md §6); any other
// value defaults to text/html or text/plain depending on content.
const mimeIDPDF = 2

// resolveTexts applies spec.md §4.8's text acquisition policy to every raw
// text entry upstream returned, producing the legislation.BillText rows
// BillStore persists. Entries are returned in the order given; ordering by
// versionNumber before persistence is BillStore's responsibility within its
// own upsert loop (spec.md §5's "text upserts are ordered by versionNumber").
func (e *Engine) resolveTexts(ctx context.Context, billID int64, raw []upstream.RawBillText) []legislation.BillText {
	out := make([]legislation.BillText, 0, len(raw))
	for _, r := range raw {
		out = append(out, e.resolveText(ctx, billID, r))
	}
	return out
}

func (e *Engine) resolveText(ctx context.Context, billID int64, r upstream.RawBillText) legislation.BillText {
	t := legislation.BillText{
		BillID:        billID,
		VersionNumber: r.VersionNumber,
		TextType:      r.TextType,
		TextHash:      r.TextHash,
	}
	if d, err := time.Parse("2006-01-02", r.Date); err == nil {
		t.TextDate = d
	}

	forceDoc64 := r.VersionNumber == 1 || textTypesForcingDoc64[r.TextType]

	if r.StateLink != "" && !forceDoc64 {
		if fetched, ok := e.fetchStateLink(ctx, billID, r); ok {
			return mergeResolved(t, fetched)
		}
	}

	if r.Doc != "" {
		if decoded, ok := decodeDoc64(r.Doc); ok {
			return mergeResolved(t, decoded)
		}
	}

	// Neither source yielded usable content; fall back to whatever a
	// stateLink fetch could produce even for a force-doc64 entry, matching
	// spec.md §9's "source prefers stateLink" note for the ambiguous case of
	// both sources being attempted.
	if r.StateLink != "" {
		if fetched, ok := e.fetchStateLink(ctx, billID, r); ok {
			return mergeResolved(t, fetched)
		}
	}
	return t
}

// resolvedContent is the outcome of either acquisition path, before it's
// merged back onto the partially-built legislation.BillText.
type resolvedContent struct {
	content     []byte
	contentType string
	isBinary    bool
}

func mergeResolved(t legislation.BillText, r resolvedContent) legislation.BillText {
	t.Content = r.content
	t.ContentType = r.contentType
	t.IsBinary = r.isBinary
	t.SizeBytes = int64(len(r.content))
	return t
}

func (e *Engine) fetchStateLink(ctx context.Context, billID int64, r upstream.RawBillText) (resolvedContent, bool) {
	result, err := e.client.FetchURL(ctx, r.StateLink)
	if err != nil {
		e.log.Error("sync: state_link fetch failed", map[string]any{"bill_id": billID, "state_link": r.StateLink, "error": err.Error()})
		return resolvedContent{}, false
	}

	if result.MimeHint == "application/pdf" || textutil.IsBinaryPdf(result.Bytes) {
		return resolvedContent{content: result.Bytes, contentType: "application/pdf", isBinary: true}, true
	}

	text := decodeAndSanitize(result.Bytes)
	contentType := result.MimeHint
	if contentType == "" {
		contentType = "text/html"
	}
	return resolvedContent{content: []byte(text), contentType: contentType}, true
}

func decodeDoc64(encoded string) (resolvedContent, bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return resolvedContent{}, false
	}
	if isBinary, contentType := textutil.DetectBinarySignature(raw); isBinary {
		return resolvedContent{content: raw, contentType: contentType, isBinary: true}, true
	}
	text := decodeAndSanitize(raw)
	return resolvedContent{content: []byte(text), contentType: "text/plain"}, true
}

func decodeAndSanitize(raw []byte) string {
	decoded := textutil.EnsurePlainString(raw)
	stripped, _ := textutil.StripHTML(decoded)
	return stripped
}
