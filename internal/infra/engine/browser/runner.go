package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	domain "github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// Runner drives the external browser-automation service. The service renders
// the page in a real browser, runs the full check battery and returns the
// signals the static prober cannot collect (script errors, checkout flow,
// variant selection, screenshot).
type Runner struct {
	baseURL string
	client  *http.Client
}

func NewRunner(baseURL string, timeout time.Duration) *Runner {
	return &Runner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type runPayload struct {
	URL   string `json:"url"`
	Depth string `json:"depth"`
}

type runResponse struct {
	LoadTimeMS    int64               `json:"load_time_ms"`
	Findings      []domain.RawFinding `json:"findings"`
	JSErrors      []string            `json:"js_errors"`
	NetworkErrors []string            `json:"network_errors"`
	ConsoleLogs   []string            `json:"console_logs"`
	HTML          []byte              `json:"html"`
	Screenshot    []byte              `json:"screenshot"`
	TargetStatus  int                 `json:"target_status"`
	Error         string              `json:"error"`
}

func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	body, err := json.Marshal(runPayload{URL: req.URL, Depth: string(req.Depth)})
	if err != nil {
		return domain.RunResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/run", bytes.NewReader(body))
	if err != nil {
		return domain.RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("browser engine: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("browser engine: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RunResult{}, fmt.Errorf("browser engine: status %d: %s", resp.StatusCode, snippet(raw))
	}

	var out runResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.RunResult{}, fmt.Errorf("browser engine: decode response: %w", err)
	}
	if out.TargetStatus == http.StatusNotFound || out.TargetStatus == http.StatusGone {
		return domain.RunResult{}, domain.ErrTargetNotFound
	}
	if out.Error != "" {
		return domain.RunResult{}, fmt.Errorf("browser engine: %s", out.Error)
	}

	return domain.RunResult{
		LoadTimeMS:    out.LoadTimeMS,
		Findings:      out.Findings,
		JSErrors:      out.JSErrors,
		NetworkErrors: out.NetworkErrors,
		ConsoleLogs:   out.ConsoleLogs,
		HTML:          out.HTML,
		Screenshot:    out.Screenshot,
	}, nil
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
