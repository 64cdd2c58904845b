package analysis

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/BTreeMap/MetaCoach/internal/models"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// maxResponseBytes caps the remote response body.
const maxResponseBytes = 1 << 20

// RemoteAnalyzer is the contract of an external pattern analysis service.
type RemoteAnalyzer interface {
	AnalyzeRemote(ctx context.Context, statement string) (models.AnalysisResult, error)
}

// RemoteErrorKind classifies remote failures.
type RemoteErrorKind string

const (
	// RemoteUnavailable covers transport errors, timeouts and non-2xx responses.
	RemoteUnavailable RemoteErrorKind = "remote_unavailable"
	// MalformedRemoteResponse covers bodies that are not the expected document.
	MalformedRemoteResponse RemoteErrorKind = "malformed_remote_response"
)

// RemoteError is returned by remote analyzers.
type RemoteError struct {
	Kind RemoteErrorKind
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func unavailable(err error) error {
	return &RemoteError{Kind: RemoteUnavailable, Err: err}
}

func malformed(err error) error {
	return &RemoteError{Kind: MalformedRemoteResponse, Err: err}
}

// Opts holds configuration for RemoteClient.
type Opts struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Option configures RemoteClient.
type Option func(*Opts)

// WithEndpoint sets the analysis endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) {
		o.Endpoint = endpoint
	}
}

// WithAPIKey sets the bearer token sent to the endpoint.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// RemoteClient calls the hosted analysis function over HTTP.
type RemoteClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteClient creates a RemoteClient. The endpoint is required.
func NewRemoteClient(opts ...Option) (*RemoteClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("analysis endpoint not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	slog.Debug("RemoteClient created", "endpoint", cfg.Endpoint, "apiKeySet", cfg.APIKey != "")
	return &RemoteClient{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, httpClient: cfg.HTTPClient}, nil
}

type remoteRequest struct {
	InputText string `json:"inputText"`
}

type remoteResponse struct {
	Analysis []remoteEntry `json:"analysis"`
}

type remoteEntry struct {
	PatternType       string `json:"pattern_type"`
	IdentifiedWord    string `json:"identified_word"`
	GeneratedQuestion string `json:"generated_question"`
}

// AnalyzeRemote posts the statement and decodes the detected patterns.
func (c *RemoteClient) AnalyzeRemote(ctx context.Context, statement string) (models.AnalysisResult, error) {
	payload, err := json.Marshal(remoteRequest{InputText: statement})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.AnalysisResult{}, unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.AnalysisResult{}, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.AnalysisResult{}, unavailable(fmt.Errorf("analysis endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return models.AnalysisResult{}, unavailable(fmt.Errorf("failed to read analysis response: %w", err))
	}
	if len(body) > maxResponseBytes {
		return models.AnalysisResult{}, malformed(fmt.Errorf("analysis response exceeds %d bytes", maxResponseBytes))
	}

	return decodeAnalysis(body)
}

//go:embed analysis_response.schema.json
var responseSchemaJSON []byte

const responseSchemaURL = "mem://schemas/analysis-response.schema.json"

var (
	schemaOnce     sync.Once
	responseSchema *jsonschema.Schema
	schemaErr      error
)

func getResponseSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(responseSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decode analysis response schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(responseSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("register analysis response schema: %w", err)
			return
		}
		responseSchema, schemaErr = c.Compile(responseSchemaURL)
	})
	return responseSchema, schemaErr
}

// decodeAnalysis validates a response document and converts it into an AnalysisResult.
func decodeAnalysis(body []byte) (models.AnalysisResult, error) {
	schema, err := getResponseSchema()
	if err != nil {
		return models.AnalysisResult{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return models.AnalysisResult{}, malformed(fmt.Errorf("response is not JSON: %w", err))
	}
	if err := schema.Validate(inst); err != nil {
		return models.AnalysisResult{}, malformed(err)
	}

	var doc remoteResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.AnalysisResult{}, malformed(err)
	}

	patterns := make([]models.DetectedPattern, 0, len(doc.Analysis))
	for _, entry := range doc.Analysis {
		category, ok := NormalizeCategory(entry.PatternType)
		if !ok {
			slog.Warn("RemoteAnalyzer: dropping pattern with unknown category", "patternType", entry.PatternType)
			continue
		}
		patterns = append(patterns, models.DetectedPattern{
			Category:         category,
			MatchedKeyword:   strings.TrimSpace(entry.IdentifiedWord),
			FollowUpQuestion: strings.TrimSpace(entry.GeneratedQuestion),
		})
	}
	return models.AnalysisResult{Patterns: patterns}, nil
}

// IsRemoteError reports whether err came from a remote analyzer and returns its kind.
func IsRemoteError(err error) (RemoteErrorKind, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
