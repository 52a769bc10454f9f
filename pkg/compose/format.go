package compose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/clbanning/mxj/v2"
	"gopkg.in/yaml.v3"
)

// Format tags the file format a payload was read from.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// Payload is a structural payload plus the format it came from.
type Payload struct {
	Format Format
	Body   map[string]any
}

// formatSniffed marks template files whose format is taken from content.
const formatSniffed Format = "sniffed"

func formatOf(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".xml":
		return FormatXML, nil
	case ".tmpl":
		// create-user.json.tmpl names its format, create-user.tmpl does not
		if inner, err := formatOf(strings.TrimSuffix(path, filepath.Ext(path))); err == nil {
			return inner, nil
		}
		return formatSniffed, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
	}
}

// sniffFormat tags template content: markup, then strict JSON, else YAML.
func sniffFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return FormatXML
	case json.Valid(trimmed):
		return FormatJSON
	default:
		return FormatYAML
	}
}

// decodeObject parses YAML or JSON (a YAML subset) into an object.
func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("document must be an object: %w", err)
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	return obj, nil
}

// DecodePayload parses data as format. Markup keeps tags, attributes
// (prefixed "-") and text ("#text") in the structural map.
func DecodePayload(data []byte, format Format) (*Payload, error) {
	if format == formatSniffed {
		format = sniffFormat(data)
	}
	switch format {
	case FormatXML:
		m, err := mxj.NewMapXml(data)
		if err != nil {
			return nil, err
		}
		return &Payload{Format: FormatXML, Body: map[string]any(m)}, nil
	case FormatYAML, FormatJSON:
		obj, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		return &Payload{Format: format, Body: obj}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", format)
	}
}

// Encode serializes body back into the payload's origin format.
func (p *Payload) Encode(body any) ([]byte, error) {
	switch p.Format {
	case FormatXML:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("markup payload must resolve to an object, got %T", body)
		}
		return mxj.Map(m).Xml()
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(body); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.Marshal(body)
	}
}

// ContentType returns the MIME type matching the payload format.
func (p *Payload) ContentType() string {
	switch p.Format {
	case FormatXML:
		return "application/xml"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}
