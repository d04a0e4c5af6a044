package inspect

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// EmptyMessage is printed for a tree with no root.
const EmptyMessage = "pool is empty"

// Format selects how a Result is written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Formatter writes a Result.
type Formatter interface {
	Format(w io.Writer, res *Result) error
}

// NewFormatter returns the formatter for f, text for anything unknown.
func NewFormatter(f Format) Formatter {
	switch f {
	case FormatJSON:
		return JSONFormatter{}
	case FormatYAML:
		return YAMLFormatter{}
	default:
		return TextFormatter{}
	}
}

// TextFormatter writes one line per record, or EmptyMessage.
type TextFormatter struct{}

// Format implements Formatter
func (TextFormatter) Format(w io.Writer, res *Result) error {
	if res.Empty {
		_, err := fmt.Fprintln(w, EmptyMessage)
		return err
	}
	lines, err := res.Lines()
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	if res.Truncated {
		_, err = fmt.Fprintf(w, "... truncated after %d records\n", len(res.Records))
	}
	return err
}

// JSONFormatter writes one JSON object per record. An empty tree is a single
// status object with "empty": true, and a truncated walk ends with a status
// object carrying "truncated": true and the record count.
type JSONFormatter struct{}

// jsonStatus is the non-record line of JSON output
type jsonStatus struct {
	Tree      string `json:"tree"`
	Head      string `json:"head"`
	Empty     bool   `json:"empty,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Records   int    `json:"records"`
}

// Format implements Formatter
func (JSONFormatter) Format(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	status := jsonStatus{Tree: res.Request.TypeName, Head: res.Head.String(), Records: len(res.Records)}
	if res.Empty {
		status.Empty = true
		return enc.Encode(status)
	}
	views, err := views(res)
	if err != nil {
		return err
	}
	for _, v := range views {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	if res.Truncated {
		status.Truncated = true
		return enc.Encode(status)
	}
	return nil
}

// YAMLFormatter writes the whole result as one YAML document.
type YAMLFormatter struct{}

// Format implements Formatter
func (YAMLFormatter) Format(w io.Writer, res *Result) error {
	views, err := views(res)
	if err != nil {
		return err
	}
	doc := struct {
		Tree      string `yaml:"tree"`
		Head      string `yaml:"head"`
		Empty     bool   `yaml:"empty"`
		Truncated bool   `yaml:"truncated,omitempty"`
		Records   []any  `yaml:"records"`
	}{
		Tree:      res.Request.TypeName,
		Head:      res.Head.String(),
		Empty:     res.Empty,
		Truncated: res.Truncated,
		Records:   views,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func views(res *Result) ([]any, error) {
	out := make([]any, 0, len(res.Records))
	for _, rec := range res.Records {
		v, err := rec.View()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
