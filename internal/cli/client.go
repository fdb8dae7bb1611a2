package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rotation/internal/charts"
	"rotation/internal/game"

	"github.com/google/uuid"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response. Body holds the raw payload, trimmed.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

type AdvanceResult struct {
	Status        string `json:"status"`
	TimeRemaining string `json:"time_remaining,omitempty"`
	RemainingMs   int64  `json:"time_remaining_ms,omitempty"`
	NewTurn       int64  `json:"new_turn,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

type ChartPage struct {
	Chart      charts.Spec          `json:"chart"`
	TurnNumber int64                `json:"turn_number"`
	Rows       []game.ChartSnapshot `json:"rows"`
}

type MovementPage struct {
	Chart        charts.Spec          `json:"chart"`
	TurnNumber   int64                `json:"turn_number"`
	PreviousTurn int64                `json:"previous_turn"`
	Rows         []charts.MovementRow `json:"rows"`
}

func (c *Client) Status(ctx context.Context) (game.TurnStatus, error) {
	var out game.TurnStatus
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/turn", nil, &out)
	return out, err
}

// Advance returns the decoded outcome even when the server answers 503, so
// callers can show the error detail.
func (c *Client) Advance(ctx context.Context) (AdvanceResult, error) {
	var out AdvanceResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/turn/advance", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		if jerr := json.Unmarshal([]byte(apiErr.Body), &out); jerr == nil && out.Status != "" {
			return out, err
		}
	}
	return out, err
}

func (c *Client) ListCharts(ctx context.Context) ([]charts.Spec, error) {
	var out struct {
		Charts []charts.Spec `json:"charts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/charts", nil, &out)
	return out.Charts, err
}

// Chart fetches a snapshot. turn < 0 selects the latest published turn and
// subject <= 0 disables the subject filter.
func (c *Client) Chart(ctx context.Context, chartType string, turnNumber, subject int64) (ChartPage, error) {
	var out ChartPage
	err := c.jsonRequest(ctx, http.MethodGet, chartPath(chartType, "", turnNumber, subject), nil, &out)
	return out, err
}

func (c *Client) Movement(ctx context.Context, chartType string, turnNumber, subject int64) (MovementPage, error) {
	var out MovementPage
	err := c.jsonRequest(ctx, http.MethodGet, chartPath(chartType, "/movement", turnNumber, subject), nil, &out)
	return out, err
}

func chartPath(chartType, suffix string, turnNumber, subject int64) string {
	q := url.Values{}
	if turnNumber >= 0 {
		q.Set("turn", strconv.FormatInt(turnNumber, 10))
	}
	if subject > 0 {
		q.Set("subject", strconv.FormatInt(subject, 10))
	}
	path := "/v1/charts/" + url.PathEscape(chartType) + suffix
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
