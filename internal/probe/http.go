package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

// bodyExcerptLimit bounds how much of an unhealthy response is read for the
// failure reason.
const bodyExcerptLimit = 512

type httpProber struct {
	client *http.Client
	url    string
	expect []int
}

func newHTTPProber(spec *HTTPSpec) Prober {
	return &httpProber{
		client: &http.Client{},
		url:    spec.URL,
		expect: append([]int(nil), spec.ExpectStatus...),
	}
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if p.healthy(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
	_, _ = io.Copy(io.Discard, resp.Body)
	if detail := failureDetail(excerpt); detail != "" {
		return fmt.Errorf("status=%d: %s", resp.StatusCode, detail)
	}
	return fmt.Errorf("status=%d", resp.StatusCode)
}

func (p *httpProber) healthy(code int) bool {
	if len(p.expect) > 0 {
		return slices.Contains(p.expect, code)
	}
	return code >= 200 && code < 400
}

// failureDetail extracts a short reason from an unhealthy response. Inference
// servers answer 503 with {"error":{"message":"Loading model"}} while the
// model is loading; anything else falls back to the first line of the body.
func failureDetail(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	if len(line) > 120 {
		line = line[:120]
	}
	return strings.TrimSpace(line)
}
