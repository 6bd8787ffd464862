// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format is the requested output format for a capture run.
type Format string

// Supported output formats. Raw image formats are written directly to the
// output directory; document formats are assembled once the crawl finishes.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Sentinel errors surfaced to callers.
var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrNoSeeds           = errors.New("at least one seed URL required")
	ErrSessionLost       = errors.New("browser session lost")
)

// ParseFormat validates a user supplied format name. "jpg" is accepted as an
// alias for jpeg and "document" for docx.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "pdf":
		return FormatPDF, nil
	case "docx", "document":
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// SupportedFormats lists the canonical format names.
func SupportedFormats() []Format {
	return []Format{FormatPNG, FormatJPEG, FormatWebP, FormatPDF, FormatDOCX}
}

// IsDocument reports whether the format requires assembly after the crawl.
func (f Format) IsDocument() bool {
	return f == FormatPDF || f == FormatDOCX
}

// ImageFormat returns the format used for viewport slices. Document formats
// capture PNG slices.
func (f Format) ImageFormat() Format {
	if f.IsDocument() {
		return FormatPNG
	}
	return f
}

// Ext returns the file extension without the leading dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type for files of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "image/png"
	}
}

// Artifact is one captured viewport slice.
type Artifact struct {
	SourceURL    string `json:"source_url"`
	Sequence     int    `json:"sequence"`
	Path         string `json:"path"`
	Format       Format `json:"format"`
	ScrollOffset int    `json:"scroll_offset"`
}

// Group holds the artifacts captured for one visited URL, in sequence order.
type Group struct {
	URL       string
	Artifacts []Artifact
	// Err is set when capture of this URL failed part-way. Artifacts holds
	// whatever was written before the failure.
	Err error
}

// LocatorKind selects how a scoping element is found.
type LocatorKind string

// Supported locator kinds.
const (
	LocateWholePage LocatorKind = ""
	LocateByID      LocatorKind = "id"
	LocateByClass   LocatorKind = "class"
)

// Locator scopes link extraction to a part of the page.
type Locator struct {
	Kind  LocatorKind
	Value string
}

// WholePage is the zero Locator.
var WholePage = Locator{}

// ByID builds an identifier locator.
func ByID(id string) Locator { return Locator{Kind: LocateByID, Value: id} }

// ByClass builds a class-name locator.
func ByClass(class string) Locator { return Locator{Kind: LocateByClass, Value: class} }

func (l Locator) String() string {
	switch l.Kind {
	case LocateByID:
		return "#" + l.Value
	case LocateByClass:
		return "." + l.Value
	default:
		return "page"
	}
}

// Options tunes a single crawl.
type Options struct {
	// OutputDir receives the slice images.
	OutputDir string
	// Format is the slice image format (never a document format).
	Format Format
	// SinglePage disables frontier expansion.
	SinglePage bool
	// Scopes are extra locators whose anchors are extracted in addition to
	// the whole page.
	Scopes []Locator
	// MaxPages caps the number of visited URLs. Zero means unlimited.
	MaxPages int
	// ReadyTimeout bounds navigation plus the wait for the document body.
	ReadyTimeout time.Duration
}

// Request is a fully specified capture run, as submitted by the CLI or API.
type Request struct {
	Seeds        []string `json:"urls"`
	OutputDir    string   `json:"path"`
	Format       Format   `json:"type"`
	SinglePage   bool     `json:"single_page"`
	BlockAds     bool     `json:"block_ads"`
	ScopeID      string   `json:"scope_id,omitempty"`
	ScopeClasses []string `json:"scope_classes,omitempty"`
	MaxPages     int      `json:"max_pages,omitempty"`
	Debug        bool     `json:"debug"`
}

// Validate rejects configuration errors before any resource is acquired.
func (r Request) Validate() error {
	if len(cleanSeeds(r.Seeds)) == 0 {
		return ErrNoSeeds
	}
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	if r.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0")
	}
	return nil
}

// Locators returns the configured scoping locators.
func (r Request) Locators() []Locator {
	var out []Locator
	if id := strings.TrimSpace(r.ScopeID); id != "" {
		out = append(out, ByID(id))
	}
	for _, class := range r.ScopeClasses {
		if class = strings.TrimSpace(class); class != "" {
			out = append(out, ByClass(class))
		}
	}
	return out
}

// SplitSeeds parses a comma separated seed list.
func SplitSeeds(raw string) []string {
	return cleanSeeds(strings.Split(raw, ","))
}

func cleanSeeds(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
