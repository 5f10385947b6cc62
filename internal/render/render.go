package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/electwix/bi-catalyst/internal/model"
)

// Format is one output format name.
type Format string

// Supported output formats.
const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// AllFormats lists every supported format in output order.
var AllFormats = []Format{FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormats expands a comma-separated format list; "all" selects every
// format. Duplicates collapse, order follows AllFormats.
func ParseFormats(s string) ([]Format, error) {
	if strings.TrimSpace(s) == "" {
		return []Format{FormatMarkdown}, nil
	}

	selected := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		switch Format(strings.ToLower(strings.TrimSpace(part))) {
		case "all":
			for _, f := range AllFormats {
				selected[f] = true
			}
		case FormatMarkdown, "md":
			selected[FormatMarkdown] = true
		case FormatJSON:
			selected[FormatJSON] = true
		case FormatYAML, "yml":
			selected[FormatYAML] = true
		default:
			return nil, fmt.Errorf("unknown output format %q", strings.TrimSpace(part))
		}
	}

	formats := make([]Format, 0, len(selected))
	for _, f := range AllFormats {
		if selected[f] {
			formats = append(formats, f)
		}
	}
	return formats, nil
}

// Extension returns the file extension for the format, dot included.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	default:
		return ".md"
	}
}

// JSON renders the document as indented JSON with a trailing newline.
func JSON(md *model.Metadata) (string, error) {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render JSON for %s: %w", md.File, err)
	}
	return string(data) + "\n", nil
}

// YAML renders the document as YAML.
func YAML(md *model.Metadata) (string, error) {
	data, err := yaml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("render YAML for %s: %w", md.File, err)
	}
	return string(data), nil
}

// File is one rendered output document.
type File struct {
	Path    string
	Content []byte
}

// Files renders the document in each requested format. Paths are baseName
// plus the format extension, no directory.
func Files(md *model.Metadata, formats []Format, baseName string) ([]File, error) {
	files := make([]File, 0, len(formats))
	for _, format := range formats {
		var (
			content string
			err     error
		)
		switch format {
		case FormatMarkdown:
			content, err = Markdown(md)
		case FormatJSON:
			content, err = JSON(md)
		case FormatYAML:
			content, err = YAML(md)
		default:
			err = fmt.Errorf("unknown output format %q", format)
		}
		if err != nil {
			return nil, err
		}
		files = append(files, File{
			Path:    baseName + format.Extension(),
			Content: []byte(content),
		})
	}
	return files, nil
}
