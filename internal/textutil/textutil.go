// Package textutil sanitizes bill content before it is stored, tokenized,
// or placed into a model prompt.
package textutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var controlCharPattern = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")

// EnsurePlainString decodes x as UTF-8 (replacing invalid sequences),
// coerces any non-string input via its string representation, and strips
// C0 control characters other than tab/newline/carriage-return. It must run
// before any storage, tokenization, or prompt composition (spec.md §4.2).
func EnsurePlainString(x any) string {
	var s string
	switch v := x.(type) {
	case string:
		s = v
	case []byte:
		s = strings.ToValidUTF8(string(v), "�") // string() alone keeps invalid bytes as they are
	default:
		s = toStringFallback(v)
	}
	return controlCharPattern.ReplaceAllString(s, "")
}

func toStringFallback(v any) string {
	if v == nil {
		return ""
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return fmt.Sprint(v)
}

var pdfMagic = []byte("%PDF-")

// IsBinaryPdf returns true iff b is a byte sequence starting with "%PDF-".
func IsBinaryPdf(b []byte) bool {
	if len(b) < len(pdfMagic) {
		return false
	}
	for i, c := range pdfMagic {
		if b[i] != c {
			return false
		}
	}
	return true
}

// binarySignature pairs a magic-byte prefix with the MIME type the text
// acquisition policy (spec.md §4.8) stores for it when detected in the
// base64 doc fallback.
type binarySignature struct {
	magic       []byte
	contentType string
}

var binarySignatures = []binarySignature{
	{magic: []byte("%PDF-"), contentType: "application/pdf"},
	{magic: []byte("\xD0\xCF\x11\xE0"), contentType: "application/msword"},
	{magic: []byte("PK\x03\x04"), contentType: "application/zip"},
}

// DetectBinarySignature checks b's leading bytes against the known binary
// magic numbers spec.md §4.8 requires the doc64 fallback path to recognize:
// PDF ("%PDF-"), OLE/MS Office ("\xD0\xCF\x11\xE0"), and zip-based formats
// including modern Office/OOXML ("PK\x03\x04"). It reports whether a
// signature matched and, if so, the MIME type to store alongside the
// content.
func DetectBinarySignature(b []byte) (bool, string) {
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(b, sig.magic) {
			return true, sig.contentType
		}
	}
	return false, ""
}

const (
	stripHTMLMinLength  = 5000
	stripHTMLMinMarkers = 3
)

var structuralMarkers = []string{"<html", "<body", "<div", "<span", "<p", "<table", "<script", "<style"}

// StripMethod names which extraction strategy StripHTML actually used.
type StripMethod string

const (
	MethodNone       StripMethod = "none"
	MethodDOM        StripMethod = "dom"
	MethodRegex      StripMethod = "regex"
)

var (
	styleBlockPattern  = regexp.MustCompile(`(?is)<style.*?</style>`)
	scriptBlockPattern = regexp.MustCompile(`(?is)<script.*?</script>`)
	anyTagPattern      = regexp.MustCompile(`(?s)<[^>]+>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// StripHTML activates only when text is long enough and HTML-like enough to
// be worth the extraction cost, per spec.md §4.2. It returns the shorter of
// the DOM-style extraction and the regex fallback, so the result never
// expands the input, and is idempotent: StripHTML(StripHTML(x)) == StripHTML(x).
func StripHTML(text string) (string, StripMethod) {
	if len(text) <= stripHTMLMinLength || countMarkers(text) < stripHTMLMinMarkers {
		return text, MethodNone
	}

	regexResult := regexExtract(text)
	domResult, domOK := domExtract(text)

	if domOK && len(domResult) > 0 && len(domResult) <= len(regexResult) {
		return domResult, MethodDOM
	}
	return regexResult, MethodRegex
}

func countMarkers(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, m := range structuralMarkers {
		n += strings.Count(lower, m)
		if n >= stripHTMLMinMarkers {
			return n
		}
	}
	return n
}

// domExtract removes <script>/<style> subtrees and extracts the remaining
// visible text via the html-to-markdown converter (DOM-style parse, matching
// the teacher's internal/tools/web/fetch.go HTML handling), then strips the
// markdown's own punctuation down to plain words joined by single spaces.
func domExtract(html string) (string, bool) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", false
	}
	plain := stripMarkdownSyntax(md)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(plain, " ")), true
}

var markdownSyntaxPattern = regexp.MustCompile(`[#*_` + "`" + `>\[\]()~-]`)

func stripMarkdownSyntax(md string) string {
	return markdownSyntaxPattern.ReplaceAllString(md, " ")
}

func regexExtract(html string) string {
	out := styleBlockPattern.ReplaceAllString(html, " ")
	out = scriptBlockPattern.ReplaceAllString(out, " ")
	out = anyTagPattern.ReplaceAllString(out, " ")
	out = whitespacePattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
