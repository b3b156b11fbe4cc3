package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/metrics"
)

// Source names where a Verdict came from.
type Source string

const (
	SourceNone              Source = "none"
	SourceHeuristic         Source = "heuristic"
	SourcePerspective       Source = "perspective"
	SourceHeuristicFallback Source = "heuristic-fallback"
)

// Flag thresholds per source. The fallback threshold is stricter because the
// heuristic is standing in for a classifier that should have answered.
const (
	heuristicThreshold   = 0.75
	perspectiveThreshold = 0.85
	fallbackThreshold    = 0.90
)

var errQuotaExceeded = errors.New("perspective quota exceeded")

// Verdict is the advisory outcome of a toxicity scan.
type Verdict struct {
	Flagged bool    `json:"flagged"`
	Score   float64 `json:"score"`
	Source  Source  `json:"source"`
	Message string  `json:"message,omitempty"`
}

// ScanOptions describes where the text came from ("post", "comment", ...).
type ScanOptions struct {
	Context string
}

// ScannerConfig configures the Perspective client. An empty APIKey selects
// heuristic-only mode.
type ScannerConfig struct {
	APIKey     string
	Endpoint   string
	QPS        float64
	HTTPClient *http.Client
}

// Scanner scores text for toxicity. It never returns an error: any failure
// to reach the API degrades to the heuristic.
type Scanner struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewScanner builds a Scanner from cfg.
func NewScanner(cfg ScannerConfig) *Scanner {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	qps := cfg.QPS
	if qps <= 0 {
		qps = 1
	}
	burst := int(math.Ceil(qps))
	return &Scanner{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: cfg.Endpoint,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(qps), burst),
	}
}

// Enabled reports whether the external classifier is configured.
func (s *Scanner) Enabled() bool {
	return s.apiKey != ""
}

// Scan scores text. Whitespace-only text is never flagged.
func (s *Scanner) Scan(ctx context.Context, text string, opts ScanOptions) Verdict {
	v := s.scan(ctx, text)
	metrics.ObserveVerdict(string(v.Source), v.Flagged)
	if v.Flagged || v.Source == SourceHeuristicFallback {
		logger.Component("moderation").WithFields(map[string]interface{}{
			"context": opts.Context,
			"source":  v.Source,
			"score":   v.Score,
			"flagged": v.Flagged,
		}).Info("toxicity verdict")
	}
	return v
}

func (s *Scanner) scan(ctx context.Context, text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Flagged: false, Score: 0, Source: SourceNone}
	}

	if !s.Enabled() {
		score := HeuristicScore(text)
		return Verdict{Flagged: score >= heuristicThreshold, Score: score, Source: SourceHeuristic}
	}

	score, err := s.perspective(ctx, text)
	if err != nil {
		h := HeuristicScore(text)
		return Verdict{
			Flagged: h >= fallbackThreshold,
			Score:   h,
			Source:  SourceHeuristicFallback,
			Message: err.Error(),
		}
	}
	return Verdict{Flagged: score >= perspectiveThreshold, Score: score, Source: SourcePerspective}
}

// HeuristicScore is the local stand-in for the classifier: shouting, runs of
// exclamation marks and very long text each add to the score.
func HeuristicScore(text string) float64 {
	length := utf8.RuneCountInString(text)
	score := 0.0

	if length > 40 && uppercaseRatio(text) > 0.7 {
		score += 0.4
	}
	if strings.Contains(text, "!!!") {
		score += 0.2
	}
	if length > 500 {
		score += 0.1
	}

	score = math.Round(score*100) / 100
	return math.Min(score, 1.0)
}

func uppercaseRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

type perspectiveRequest struct {
	Comment             perspectiveComment  `json:"comment"`
	Languages           []string            `json:"languages"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
	DoNotStore          bool                `json:"doNotStore"`
}

type perspectiveComment struct {
	Text string `json:"text"`
}

type perspectiveResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value *float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

func (s *Scanner) perspective(ctx context.Context, text string) (float64, error) {
	if !s.limiter.Allow() {
		return 0, errQuotaExceeded
	}

	payload, err := json.Marshal(perspectiveRequest{
		Comment:             perspectiveComment{Text: text},
		Languages:           []string{"en"},
		RequestedAttributes: map[string]struct{}{"TOXICITY": {}},
		DoNotStore:          true,
	})
	if err != nil {
		return 0, fmt.Errorf("encode perspective request: %w", err)
	}

	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse perspective endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("key", s.apiKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build perspective request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// url.Error carries the request URL, which contains the API key.
			return 0, fmt.Errorf("perspective request failed: %w", uerr.Err)
		}
		return 0, fmt.Errorf("perspective request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("perspective returned status %d", resp.StatusCode)
	}

	var out perspectiveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode perspective response: %w", err)
	}
	attr, ok := out.AttributeScores["TOXICITY"]
	if !ok || attr.SummaryScore.Value == nil {
		return 0, errors.New("perspective response missing TOXICITY score")
	}
	return math.Max(0, math.Min(1, *attr.SummaryScore.Value)), nil
}
