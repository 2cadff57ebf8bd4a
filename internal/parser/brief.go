// Package parser reads task briefs from disk. A brief describes one task
// in either YAML or Markdown; both shapes normalize into the same task
// spec before the runtime sees them.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/steward/internal/models"
)

// Format identifies a brief file format.
type Format int

// Supported brief formats.
const (
	FormatUnknown Format = iota
	FormatYAML
	FormatMarkdown
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// DetectFormat infers the brief format from the filename extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// Option adjusts brief parsing.
type Option func(*options)

type options struct {
	defaultMaxSteps int
}

// WithDefaultMaxSteps sets the step ceiling applied to briefs that omit
// max_steps. Explicit brief values always win.
func WithDefaultMaxSteps(n int) Option {
	return func(o *options) { o.defaultMaxSteps = n }
}

// ParseFile reads one brief from disk and normalizes it.
func ParseFile(path string, opts ...Option) (models.TaskSpec, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return models.TaskSpec{}, fmt.Errorf("unsupported brief format: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return models.TaskSpec{}, fmt.Errorf("open brief: %w", err)
	}
	defer f.Close()

	spec, err := Parse(f, format, opts...)
	if err != nil {
		return models.TaskSpec{}, fmt.Errorf("parse brief %s: %w", path, err)
	}
	return spec, nil
}

// Parse reads one brief in the given format, normalizes it, and validates
// the result.
func Parse(r io.Reader, format Format, opts ...Option) (models.TaskSpec, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return models.TaskSpec{}, fmt.Errorf("read brief: %w", err)
	}

	var spec models.TaskSpec
	switch format {
	case FormatYAML:
		spec, err = parseYAML(content)
	case FormatMarkdown:
		spec, err = parseMarkdown(content)
	default:
		return models.TaskSpec{}, fmt.Errorf("unsupported brief format %v", format)
	}
	if err != nil {
		return models.TaskSpec{}, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if spec.MaxSteps <= 0 && o.defaultMaxSteps > 0 {
		spec.MaxSteps = o.defaultMaxSteps
	}

	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return models.TaskSpec{}, err
	}
	return spec, nil
}

func parseYAML(content []byte) (models.TaskSpec, error) {
	var spec models.TaskSpec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return models.TaskSpec{}, fmt.Errorf("invalid YAML: %w", err)
	}
	return spec, nil
}

// Markdown section headings recognized in a brief.
var (
	criteriaHeading    = regexp.MustCompile(`(?i)^acceptance\s+criteria$`)
	constraintsHeading = regexp.MustCompile(`(?i)^constraints$`)
)

// parseMarkdown reads a Markdown brief: optional YAML frontmatter for the
// identity fields, the first H1 as the goal, and "## Acceptance Criteria"
// and "## Constraints" list sections.
func parseMarkdown(content []byte) (models.TaskSpec, error) {
	var spec models.TaskSpec

	body, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		if err := yaml.Unmarshal(frontmatter, &spec); err != nil {
			return models.TaskSpec{}, fmt.Errorf("invalid frontmatter: %w", err)
		}
	}

	doc := goldmark.New().Parser().Parse(gmtext.NewReader(body))

	// section tracks which recognized H2 the walk is currently under.
	const (
		sectionNone = iota
		sectionCriteria
		sectionConstraints
	)
	section := sectionNone

	err := gmast.Walk(doc, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *gmast.Heading:
			text := extractText(node, body)
			if node.Level == 1 && spec.Goal == "" {
				spec.Goal = text
				section = sectionNone
				return gmast.WalkSkipChildren, nil
			}
			switch {
			case criteriaHeading.MatchString(text):
				section = sectionCriteria
			case constraintsHeading.MatchString(text):
				section = sectionConstraints
			default:
				section = sectionNone
			}
			return gmast.WalkSkipChildren, nil

		case *gmast.ListItem:
			item := extractText(node, body)
			switch section {
			case sectionCriteria:
				if item != "" {
					spec.AcceptanceCriteria = append(spec.AcceptanceCriteria, item)
				}
			case sectionConstraints:
				key, value, found := strings.Cut(item, ":")
				if found {
					if spec.Constraints == nil {
						spec.Constraints = map[string]string{}
					}
					spec.Constraints[strings.TrimSpace(key)] = strings.TrimSpace(value)
				}
			}
			return gmast.WalkSkipChildren, nil
		}

		return gmast.WalkContinue, nil
	})
	if err != nil {
		return models.TaskSpec{}, err
	}

	return spec, nil
}

// extractText collects the plain text under a node.
func extractText(n gmast.Node, source []byte) string {
	var sb strings.Builder
	gmast.Walk(n, func(child gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		if t, ok := child.(*gmast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return gmast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// extractFrontmatter splits leading "---" delimited YAML frontmatter from
// the body. Content without frontmatter is returned unchanged.
func extractFrontmatter(content []byte) (body, frontmatter []byte) {
	trimmed := bytes.TrimLeft(content, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte("---\n")) && !bytes.HasPrefix(trimmed, []byte("---\r\n")) {
		return content, nil
	}

	rest := trimmed[bytes.IndexByte(trimmed, '\n')+1:]
	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return content, nil
	}

	frontmatter = rest[:idx+1]
	body = rest[idx+1:]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}
	return body, frontmatter
}
