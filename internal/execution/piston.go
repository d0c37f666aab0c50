// Package execution runs user code against the Piston execution service.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"go.uber.org/zap"
)

const (
	opExecute        = "execution.execute"
	opNewClient      = "execution.new_client"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
)

var (
	errMissingBaseURL   = errors.New("execution base url is required")
	errMissingLanguage  = errors.New("language is required")
	errUnknownLanguage  = errors.New("language is not supported")
	errEmptySource      = errors.New("source code is required")
	errUnexpectedStatus = errors.New("execution service returned an unexpected status")
)

// languageVersions maps the languages offered in the editor to Piston runtime versions.
var languageVersions = map[string]string{
	"javascript": "18.15.0",
	"typescript": "5.0.3",
	"python":     "3.10.0",
	"java":       "15.0.2",
	"c":          "10.2.0",
	"cpp":        "10.2.0",
	"c++":        "10.2.0",
	"csharp":     "6.12.0",
	"go":         "1.16.2",
	"rust":       "1.68.2",
	"ruby":       "3.0.1",
	"php":        "8.2.3",
	"kotlin":     "1.8.20",
	"swift":      "5.3.3",
}

// Request is a single program run.
type Request struct {
	Language string `json:"language"`
	Version  string `json:"version,omitempty"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Output   string `json:"output"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Failed reports whether the program exited abnormally.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Runner executes programs.
type Runner interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ClientConfig configures the Piston client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the Piston HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin"`
}

type pistonResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
		Code   *int   `json:"code"`
	} `json:"run"`
	Message string `json:"message"`
}

// NewClient constructs a Piston client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, apperr.New(apperr.KindInternal, opNewClient, "missing_base_url", errMissingBaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// ResolveVersion returns the runtime version for language, preferring an explicit one.
func ResolveVersion(language, version string) (string, error) {
	if explicit := strings.TrimSpace(version); explicit != "" {
		return explicit, nil
	}
	resolved, ok := languageVersions[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return "", errUnknownLanguage
	}
	return resolved, nil
}

// Execute runs request.Code once with request.Stdin.
func (c *Client) Execute(ctx context.Context, request Request) (Result, error) {
	language := strings.ToLower(strings.TrimSpace(request.Language))
	if language == "" {
		return Result{}, apperr.New(apperr.KindValidation, opExecute, "missing_language", errMissingLanguage)
	}
	if strings.TrimSpace(request.Code) == "" {
		return Result{}, apperr.New(apperr.KindValidation, opExecute, "missing_code", errEmptySource)
	}
	version, err := ResolveVersion(language, request.Version)
	if err != nil {
		return Result{}, apperr.New(apperr.KindValidation, opExecute, "unsupported_language", err)
	}

	body, err := json.Marshal(pistonRequest{
		Language: language,
		Version:  version,
		Files:    []pistonFile{{Content: request.Code}},
		Stdin:    request.Stdin,
	})
	if err != nil {
		return Result{}, apperr.New(apperr.KindInternal, opExecute, "encode_failed", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, apperr.New(apperr.KindInternal, opExecute, "request_build_failed", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.logger.Warn("execution request failed", zap.String("language", language), zap.Error(err))
		return Result{}, apperr.New(apperr.KindUpstream, opExecute, "request_failed", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		c.logger.Warn("execution service rejected request",
			zap.String("language", language),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", snippet))
		return Result{}, apperr.New(apperr.KindUpstream, opExecute, "unexpected_status",
			fmt.Errorf("%w: %d", errUnexpectedStatus, response.StatusCode))
	}

	var decoded pistonResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return Result{}, apperr.New(apperr.KindUpstream, opExecute, "decode_failed", err)
	}

	result := Result{
		Language: language,
		Version:  version,
		Output:   decoded.Run.Output,
		Stderr:   decoded.Run.Stderr,
	}
	if decoded.Language != "" {
		result.Language = decoded.Language
	}
	if decoded.Version != "" {
		result.Version = decoded.Version
	}
	if result.Output == "" {
		result.Output = decoded.Run.Stdout
	}
	if decoded.Run.Code != nil {
		result.ExitCode = *decoded.Run.Code
	}
	return result, nil
}
