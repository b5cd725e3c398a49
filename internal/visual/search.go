package visual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Match is one nearest-neighbor hit from the catalog-page image index.
type Match struct {
	Catalog    string  `json:"catalog"`
	PageNumber int     `json:"page_number"`
	ImagePath  string  `json:"image_path"`
	Similarity float64 `json:"similarity"`
	SourceFile string  `json:"source_file"`
}

// Searcher answers top-K similarity queries against the image index.
type Searcher interface {
	Search(ctx context.Context, imageB64 string, topK int) ([]Match, error)
}

type searchOutput struct {
	Success bool    `json:"success"`
	Error   string  `json:"error"`
	Results []Match `json:"results"`
}

// commandRunner executes the index subprocess and returns its stdout. Tests
// swap it out.
type commandRunner func(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// SubprocessSearcher shells out to the CLIP index script. The image travels
// over stdin as base64 because page images routinely exceed argv limits.
type SubprocessSearcher struct {
	python  string
	script  string
	timeout time.Duration
	logger  *logging.Logger
	run     commandRunner
}

// NewSubprocessSearcher creates a searcher for the given index script.
func NewSubprocessSearcher(script string, timeout time.Duration, logger *logging.Logger) *SubprocessSearcher {
	if script == "" {
		panic("visual: search script path cannot be empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SubprocessSearcher{
		python:  "python3",
		script:  script,
		timeout: timeout,
		logger:  logger,
		run:     execRunner,
	}
}

// Search runs one request/response cycle against the subprocess. A subprocess
// that produces no output is a failure, never a hang: the hard timeout kills it.
func (s *SubprocessSearcher) Search(ctx context.Context, imageB64 string, topK int) ([]Match, error) {
	if strings.TrimSpace(imageB64) == "" {
		return nil, errors.New("visual: image payload cannot be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	out, runErr := s.run(ctx, imageB64, s.python, s.script, "--stdin", strconv.Itoa(topK))
	if len(bytes.TrimSpace(out)) == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("visual: index subprocess failed: %w", runErr)
		}
		return nil, errors.New("visual: index subprocess produced no output")
	}

	var decoded searchOutput
	if err := json.Unmarshal(bytes.TrimSpace(out), &decoded); err != nil {
		return nil, fmt.Errorf("visual: failed to decode index output: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("visual: index error: %s", decoded.Error)
	}

	s.logger.Debug("visual index query finished",
		"matches", len(decoded.Results),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return decoded.Results, nil
}
