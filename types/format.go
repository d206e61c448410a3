package types

import "fmt"

// Format identifies one of the supported report output formats.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Formats lists every supported format.
var Formats = []Format{FormatHTML, FormatMarkdown, FormatJSON}

// ParseFormat converts a user-supplied string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatHTML, FormatMarkdown, FormatJSON:
		return Format(s), nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// DefaultFilename returns the filename used for a format when the caller
// does not supply one.
func (f Format) DefaultFilename() string {
	switch f {
	case FormatHTML:
		return "results.html"
	case FormatMarkdown:
		return "summary.md"
	case FormatJSON:
		return "results.json"
	default:
		return "report." + string(f)
	}
}

// FormatConfig is the closed set of per-format configuration shapes.
// Each format carries its own config variant; there is no generic
// string-keyed config map.
type FormatConfig interface {
	Format() Format
	// Filename is the output filename, or "" for the format default.
	Filename() string
}

// HTMLConfig configures the interactive HTML report.
type HTMLConfig struct {
	OutputFilename string `yaml:"filename,omitempty"`
	Title          string `yaml:"title,omitempty"`
	EmbedAssets    bool   `yaml:"embed_assets,omitempty"`
}

func (c HTMLConfig) Format() Format   { return FormatHTML }
func (c HTMLConfig) Filename() string { return c.OutputFilename }

// MarkdownConfig configures the structured text report.
type MarkdownConfig struct {
	OutputFilename string `yaml:"filename,omitempty"`
	IncludeSlowest bool   `yaml:"include_slowest,omitempty"`
	IncludeEmoji   bool   `yaml:"include_emoji,omitempty"`
}

func (c MarkdownConfig) Format() Format   { return FormatMarkdown }
func (c MarkdownConfig) Filename() string { return c.OutputFilename }

// JSONConfig configures the machine-readable report.
type JSONConfig struct {
	OutputFilename string `yaml:"filename,omitempty"`
	Indent         bool   `yaml:"indent,omitempty"`
}

func (c JSONConfig) Format() Format   { return FormatJSON }
func (c JSONConfig) Filename() string { return c.OutputFilename }

// DefaultConfigFor returns the default config variant for a format.
func DefaultConfigFor(format Format) (FormatConfig, error) {
	switch format {
	case FormatHTML:
		return HTMLConfig{EmbedAssets: true}, nil
	case FormatMarkdown:
		return MarkdownConfig{IncludeSlowest: true, IncludeEmoji: true}, nil
	case FormatJSON:
		return JSONConfig{Indent: true}, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}
