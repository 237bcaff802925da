package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Tempest/internal/ratelimit"
)

const (
	defaultMBaseURL = "https://graph.platform-m.com/v19.0"

	maxErrorBody = 4 * 1024
)

// AdSet — детали ad set платформы M.
type AdSet struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	CampaignID string `json:"campaign_id"`
}

// MClient — клиент платформы M (graph-style REST API).
//
// Действия над ad set двухфазные: сначала чтение деталей (валидация
// существования), затем смена статуса.
type MClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMClient создаёт клиент платформы M. Пустой baseURL — адрес по умолчанию.
func NewMClient(baseURL string) *MClient {
	if baseURL == "" {
		baseURL = defaultMBaseURL
	}
	return &MClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAdSet возвращает детали ad set. Несуществующий ad set —
// ErrAdSetNotFound (окончательная ошибка, без повторов).
func (c *MClient) GetAdSet(ctx context.Context, adSetID, token string) (*AdSet, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=id,name,status,campaign_id&access_token=%s",
		c.baseURL, url.PathEscape(adSetID), url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build ad set request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ad set request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrAdSetNotFound, adSetID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var adSet AdSet
	if err := json.NewDecoder(resp.Body).Decode(&adSet); err != nil {
		return nil, fmt.Errorf("decode ad set: %w", err)
	}
	return &adSet, nil
}

// UpdateAdSetStatus меняет статус ad set (PAUSED | ACTIVE).
func (c *MClient) UpdateAdSetStatus(ctx context.Context, adSetID, status, token string) error {
	return c.updateStatus(ctx, adSetID, status, token)
}

// UpdateCampaignStatus меняет статус кампании (PAUSED | ACTIVE).
func (c *MClient) UpdateCampaignStatus(ctx context.Context, campaignID, status, token string) error {
	return c.updateStatus(ctx, campaignID, status, token)
}

func (c *MClient) updateStatus(ctx context.Context, objectID, status, token string) error {
	form := url.Values{}
	form.Set("status", status)
	form.Set("access_token", token)

	reqURL := c.baseURL + "/" + url.PathEscape(objectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrAdSetNotFound, objectID)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// apiError собирает *ratelimit.APIError из неуспешного ответа.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return ratelimit.NewAPIError(resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
}
