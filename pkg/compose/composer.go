package compose

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/systemstart/many-flows/pkg/api"
)

// Parameters are a step's composed, not yet resolved, parameter parts.
type Parameters struct {
	Headers  map[string]any
	Payload  *Payload
	TestData map[string]any
}

// Composer loads parameter parts, preferring the test-case directory over
// the shared common directory.
type Composer struct {
	CommonDir string
	Logger    *slog.Logger
}

// New creates a composer falling back to commonDir for missing parts.
func New(commonDir string) *Composer {
	return &Composer{CommonDir: commonDir}
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Compose builds the parameters for one step. caseDir is the directory of
// the running flow.
func (c *Composer) Compose(caseDir string, parts api.Parts) (*Parameters, error) {
	if parts.Headers == "" {
		return nil, &api.ConfigurationError{Field: api.PartHeaders, Reason: "headers part is not declared"}
	}

	headers, err := c.loadObject(caseDir, api.PartHeaders, parts.Headers)
	if err != nil {
		return nil, err
	}
	if headers == nil {
		return nil, &api.ConfigurationError{
			Field:  api.PartHeaders,
			Reason: fmt.Sprintf("%s not found in test-case or common directory", parts.Headers),
		}
	}

	params := &Parameters{Headers: headers}

	if parts.Payload != "" {
		params.Payload, err = c.loadPayload(caseDir, parts.Payload)
		if err != nil {
			return nil, err
		}
	}

	if parts.TestData != "" {
		params.TestData, err = c.loadObject(caseDir, api.PartTestData, parts.TestData)
		if err != nil {
			return nil, err
		}
	}

	return params, nil
}

func (c *Composer) loadObject(caseDir, part, rel string) (map[string]any, error) {
	path, ok, err := c.locate(caseDir, part, rel)
	if err != nil || !ok {
		return nil, err
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, &api.ConfigurationError{Field: part, Reason: rel, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &api.ConfigurationError{Field: part, Reason: "reading " + path, Err: err}
	}
	if format == formatSniffed {
		format = sniffFormat(data)
	}
	if format == FormatXML {
		return nil, &api.ConfigurationError{Field: part, Reason: fmt.Sprintf("%s: markup is only accepted for payloads", rel)}
	}

	obj, err := decodeObject(data)
	if err != nil {
		return nil, &api.ConfigurationError{Field: part, Reason: "parsing " + path, Err: err}
	}
	return obj, nil
}

func (c *Composer) loadPayload(caseDir, rel string) (*Payload, error) {
	path, ok, err := c.locate(caseDir, api.PartPayload, rel)
	if err != nil || !ok {
		return nil, err
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, &api.ConfigurationError{Field: api.PartPayload, Reason: rel, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &api.ConfigurationError{Field: api.PartPayload, Reason: "reading " + path, Err: err}
	}

	p, err := DecodePayload(data, format)
	if err != nil {
		return nil, &api.ConfigurationError{Field: api.PartPayload, Reason: "parsing " + path, Err: err}
	}
	return p, nil
}

// locate returns the first existing candidate for rel. A missing optional
// part is logged and reported as not found.
func (c *Composer) locate(caseDir, part, rel string) (string, bool, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(filepath.Clean(rel), "..") {
		return "", false, &api.ConfigurationError{Field: part, Reason: fmt.Sprintf("%s must be a relative path inside the test case", rel)}
	}

	candidates := []string{filepath.Join(caseDir, rel)}
	if c.CommonDir != "" {
		candidates = append(candidates, filepath.Join(c.CommonDir, rel))
	}

	for _, p := range candidates {
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, &api.ConfigurationError{Field: part, Reason: "checking " + p, Err: err}
		}
		if st.IsDir() {
			return "", false, &api.ConfigurationError{Field: part, Reason: p + " is a directory"}
		}
		c.logger().Debug("parameter part located", "part", part, "path", p)
		return p, true, nil
	}

	if part != api.PartHeaders {
		c.logger().Warn("parameter part not found", "part", part, "path", rel, "caseDir", caseDir, "commonDir", c.CommonDir)
	}
	return "", false, nil
}
