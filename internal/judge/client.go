package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
)

// DefaultURL is the public Piston execute endpoint.
const DefaultURL = "https://emkc.org/api/v2/piston/execute"

type runtime struct {
	Language string
	Version  string
}

// runtimes maps the language names clients send to the judge's runtime identifiers.
var runtimes = map[string]runtime{
	"python":     {Language: "python", Version: "3.10.0"},
	"javascript": {Language: "javascript", Version: "18.15.0"},
	"cpp":        {Language: "c++", Version: "10.2.0"},
	"java":       {Language: "java", Version: "15.0.2"},
	"c":          {Language: "c", Version: "10.2.0"},
}

// ResolveRuntime returns the judge language and version for lang.
// Unknown languages pass through lowercased with a wildcard version.
func ResolveRuntime(lang string) (string, string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if rt, ok := runtimes[lang]; ok {
		return rt.Language, rt.Version
	}
	return lang, "*"
}

type executeRequest struct {
	Language       string `json:"language"`
	Version        string `json:"version"`
	Files          []file `json:"files"`
	Stdin          string `json:"stdin"`
	RunTimeout     int    `json:"run_timeout,omitempty"`     // milliseconds
	CompileTimeout int    `json:"compile_timeout,omitempty"` // milliseconds
}

type file struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type stage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type executeResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      stage  `json:"run"`
	Compile  *stage `json:"compile,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Options tune a Client.
type Options struct {
	URL              string
	Timeout          time.Duration
	RunTimeoutMs     int
	CompileTimeoutMs int
}

// Client is a stateless wrapper around a Piston-compatible execution service.
type Client struct {
	url            string
	http           *http.Client
	runTimeout     int
	compileTimeout int
}

func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		url:            opts.URL,
		http:           &http.Client{Timeout: opts.Timeout},
		runTimeout:     opts.RunTimeoutMs,
		compileTimeout: opts.CompileTimeoutMs,
	}
}

// Execute runs code once with stdin. A compile failure or a transport problem is an error;
// a program that ran is reported with its exit code even when it crashed.
func (c *Client) Execute(ctx context.Context, language, code, stdin string) (domain.ExecutionResult, error) {
	lang, version := ResolveRuntime(language)
	body, err := json.Marshal(executeRequest{
		Language:       lang,
		Version:        version,
		Files:          []file{{Content: code}},
		Stdin:          stdin,
		RunTimeout:     c.runTimeout,
		CompileTimeout: c.compileTimeout,
	})
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("lang", lang).Msg("judge request failed")
		return domain.ExecutionResult{}, fmt.Errorf("%w: judge unreachable", domain.ErrExecution)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn().Int("status", resp.StatusCode).Str("lang", lang).Bytes("body", msg).Msg("judge rejected request")
		return domain.ExecutionResult{}, fmt.Errorf("%w: judge responded with status %d", domain.ErrExecution, resp.StatusCode)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("%w: malformed judge response", domain.ErrExecution)
	}
	logger.Debug().Str("lang", lang).Dur("latency", time.Since(start)).Msg("executed code via judge")

	if out.Compile != nil && out.Compile.Code != nil && *out.Compile.Code != 0 {
		return domain.ExecutionResult{}, fmt.Errorf("%w: compile error: %s", domain.ErrExecution, strings.TrimSpace(out.Compile.Stderr))
	}

	res := domain.ExecutionResult{
		Stdout: out.Run.Stdout,
		Stderr: out.Run.Stderr,
	}
	if out.Run.Code != nil {
		res.ExitCode = *out.Run.Code
	}
	if out.Run.Signal != nil {
		res.Signal = *out.Run.Signal
	}
	return res, nil
}
