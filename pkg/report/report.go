// Package report stores step attachments and run summaries on disk.
//
// Layout below the reports directory:
//
//	<run-id>/
//	  summary.yaml
//	  <flow-id>/<step-key>/<label><ext>
package report

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/processing"
)

const SummaryFile = "summary.yaml"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store writes attachments for one process invocation.
type Store struct {
	RunID string
	dir   string

	mu      sync.Mutex
	written map[string]int
}

// Open creates a fresh run directory below root. overwrite removes root
// first.
func Open(root string, overwrite bool) (*Store, error) {
	if root == "" {
		return nil, errors.New("reports directory not set")
	}
	if overwrite {
		if err := os.RemoveAll(root); err != nil {
			return nil, fmt.Errorf("cleaning reports directory: %w", err)
		}
	}

	runID := uuid.NewString()
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating reports directory: %w", err)
	}
	return &Store{RunID: runID, dir: dir, written: make(map[string]int)}, nil
}

// Dir is the run directory.
func (s *Store) Dir() string { return s.dir }

// ForFlow returns a recorder that files attachments under flowID.
func (s *Store) ForFlow(flowID string) actions.Recorder {
	return &flowRecorder{store: s, flowID: flowID}
}

// Attach implements actions.Recorder for runs without a flow id.
func (s *Store) Attach(stepID, label, contentType string, data []byte) error {
	return s.attach("", stepID, label, contentType, data)
}

func (s *Store) attach(flowID, stepID, label, contentType string, data []byte) error {
	dir := filepath.Join(s.dir, sanitize(flowID), sanitize(stepID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating attachment directory: %w", err)
	}

	name := sanitize(label) + extension(contentType)

	s.mu.Lock()
	key := filepath.Join(dir, name)
	n := s.written[key]
	s.written[key] = n + 1
	s.mu.Unlock()
	if n > 0 {
		name = fmt.Sprintf("%s-%d%s", sanitize(label), n, extension(contentType))
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("writing attachment %s: %w", name, err)
	}
	return nil
}

type flowRecorder struct {
	store  *Store
	flowID string
}

func (r *flowRecorder) Attach(stepID, label, contentType string, data []byte) error {
	return r.store.attach(r.flowID, stepID, label, contentType, data)
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".txt"
	}
	switch {
	case strings.HasSuffix(mediaType, "json"):
		return ".json"
	case strings.HasSuffix(mediaType, "xml"):
		return ".xml"
	case strings.HasSuffix(mediaType, "yaml"):
		return ".yaml"
	case mediaType == "text/html":
		return ".html"
	case strings.HasPrefix(mediaType, "text/"):
		return ".txt"
	default:
		return ".bin"
	}
}

// StepSummary is one executed step in a run summary.
type StepSummary struct {
	Key      string `yaml:"key"`
	StepID   string `yaml:"step_id"`
	Function string `yaml:"function"`
	Outcome  string `yaml:"outcome"`
	Message  string `yaml:"message,omitempty"`
	Duration string `yaml:"duration"`
}

// FlowSummary is one flow in a run summary.
type FlowSummary struct {
	ID       string        `yaml:"id"`
	File     string        `yaml:"file"`
	Status   string        `yaml:"status"`
	Seed     uint64        `yaml:"seed"`
	Duration string        `yaml:"duration"`
	Category string        `yaml:"error_category,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Steps    []StepSummary `yaml:"steps"`
}

// Summary is the document written to summary.yaml.
type Summary struct {
	RunID       string        `yaml:"run_id"`
	Environment string        `yaml:"environment,omitempty"`
	Finished    time.Time     `yaml:"finished"`
	Passed      int           `yaml:"passed"`
	Failed      int           `yaml:"failed"`
	Flows       []FlowSummary `yaml:"flows"`
}

// Summarize converts run results into a Summary.
func Summarize(runID, environment string, results []*processing.Result) *Summary {
	sum := &Summary{RunID: runID, Environment: environment, Finished: time.Now().UTC()}
	for _, res := range results {
		if res == nil {
			continue
		}
		fs := FlowSummary{
			ID:       res.FlowID,
			File:     res.FilePath,
			Status:   string(res.Status),
			Seed:     res.Seed,
			Duration: res.Duration.String(),
		}
		if res.Err != nil {
			fs.Error = res.Err.Error()
			fs.Category = api.Category(res.Err)
		}
		for _, step := range res.Steps {
			fs.Steps = append(fs.Steps, StepSummary{
				Key:      step.Key,
				StepID:   step.StepID,
				Function: step.Function,
				Outcome:  string(step.Outcome),
				Message:  step.Message,
				Duration: step.Duration.String(),
			})
		}
		if res.Status == processing.StatusCompleted {
			sum.Passed++
		} else {
			sum.Failed++
		}
		sum.Flows = append(sum.Flows, fs)
	}
	return sum
}

// WriteSummary writes summary.yaml into the run directory.
func (s *Store) WriteSummary(sum *Summary) (string, error) {
	data, err := yaml.Marshal(sum)
	if err != nil {
		return "", fmt.Errorf("encoding summary: %w", err)
	}
	path := filepath.Join(s.dir, SummaryFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}
	return path, nil
}
