// Package analysis produces AI commentary on a suspect's money flow via
// a local Ollama instance.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
)

// ErrBusy is returned when the analysis gate is saturated.
var ErrBusy = errors.New("AI 分析服务繁忙，请稍后重试")

const (
	generateTimeout = 120 * time.Second
	noDataMessage   = "暂无足够交易数据进行分析。"
)

// Reasoning models wrap their chain of thought in think tags; strip it
// before showing the answer.
var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Client calls an Ollama generate endpoint.
type Client struct {
	host   string
	model  string
	client *http.Client
}

// NewClient normalizes the host (scheme added when missing, 0.0.0.0
// rewritten to loopback) and returns a generate client.
func NewClient(host, model string) *Client {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	host = strings.ReplaceAll(host, "0.0.0.0", "127.0.0.1")
	return &Client{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: generateTimeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("AI 分析连接失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("AI 分析服务返回异常状态 %d: %s", resp.StatusCode, string(payload))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("AI 分析响应解析失败: %w", err)
	}
	if out.Response == "" {
		return "AI 分析服务暂无响应", nil
	}
	return strings.TrimSpace(thinkTags.ReplaceAllString(out.Response, "")), nil
}

// Service computes, caches and serves per-suspect analyses.
type Service struct {
	repo     *repository.Repo
	suspects *suspect.Service
	client   *Client
	gate     *jobs.Gate
	logger   *slog.Logger
}

// NewService wires the analysis flow.
func NewService(repo *repository.Repo, suspects *suspect.Service, client *Client,
	gate *jobs.Gate, logger *slog.Logger) *Service {
	return &Service{repo: repo, suspects: suspects, client: client, gate: gate, logger: logger}
}

// Analyze returns commentary for the suspect's data under the optional
// date window. Results are cached on the suspect row keyed by a data
// signature, so repeated requests over unchanged data skip the model.
func (s *Service) Analyze(ctx context.Context, sp *suspect.Suspect, startDate, endDate string) (string, error) {
	count, err := s.repo.Count(sp.ID)
	if err != nil {
		return "", err
	}
	signature := signatureFor(count, startDate, endDate)
	if sp.AnalysisSignature == signature && sp.AIAnalysis != "" {
		return sp.AIAnalysis, nil
	}

	filter, err := windowFilter(startDate, endDate)
	if err != nil {
		return "", err
	}

	topCps, err := s.repo.TopCounterpartiesByAmount(sp.ID, filter, 10)
	if err != nil {
		return "", err
	}
	if len(topCps) == 0 {
		return noDataMessage, nil
	}

	dayFilter, nightFilter := filter, filter
	dayFilter.TimeOfDay, nightFilter.TimeOfDay = "day", "night"
	day, err := s.repo.Summarize(sp.ID, dayFilter)
	if err != nil {
		return "", err
	}
	night, err := s.repo.Summarize(sp.ID, nightFilter)
	if err != nil {
		return "", err
	}

	if !s.gate.TryAcquire() {
		return "", ErrBusy
	}
	defer s.gate.Release()

	answer, err := s.client.Generate(ctx, buildPrompt(topCps, day, night))
	if err != nil {
		s.logger.Warn("analysis failed",
			slog.Uint64("suspect_id", uint64(sp.ID)), slog.String("error", err.Error()))
		return "", err
	}

	if err := s.suspects.SetAnalysis(sp.ID, answer, signature); err != nil {
		s.logger.Warn("analysis cache update failed", slog.String("error", err.Error()))
	}
	return answer, nil
}

func signatureFor(count int64, startDate, endDate string) string {
	if startDate == "" {
		startDate = "ALL"
	}
	if endDate == "" {
		endDate = "ALL"
	}
	return fmt.Sprintf("%d_%s_%s", count, startDate, endDate)
}

func windowFilter(startDate, endDate string) (repository.Filter, error) {
	var f repository.Filter
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return f, errors.New("开始日期格式错误，应为 YYYY-MM-DD")
		}
		f.StartTime = &t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return f, errors.New("结束日期格式错误，应为 YYYY-MM-DD")
		}
		// End date is inclusive.
		end := t.AddDate(0, 0, 1).Add(-time.Second)
		f.EndTime = &end
	}
	return f, nil
}

func buildPrompt(topCps []repository.CounterpartyStat, day, night *repository.Summary) string {
	parts := make([]string, 0, len(topCps))
	for _, cp := range topCps {
		parts = append(parts, fmt.Sprintf("%s(%.2f)", cp.Counterparty, cp.TotalAmount))
	}

	var b strings.Builder
	b.WriteString("作为一名金融分析专家，请根据以下嫌疑人的交易数据进行简要分析，指出可能的可疑点。\n\n")
	b.WriteString("【数据概览】\n")
	b.WriteString("- 交易对象TOP10：" + strings.Join(parts, ", ") + "\n")
	b.WriteString("- 交易时间分析：\n")
	fmt.Fprintf(&b, "  - 日间(06:00-18:00)总收入：%.2f，总支出：%.2f\n", day.TotalIncome, day.TotalExpense)
	fmt.Fprintf(&b, "  - 夜间(18:00-06:00)总收入：%.2f，总支出：%.2f\n\n", night.TotalIncome, night.TotalExpense)
	b.WriteString("请用简练、犀利的口吻（类似于侦探或审计专家），简短地给出你的核心点评和风险提示（200字以内）。")
	b.WriteString("关注大额交易或频繁交易、以及异常的交易对象，排除正常的对象（如超市购物等）。")
	return b.String()
}
