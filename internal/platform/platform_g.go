package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultGBaseURL = "https://ads.platform-g.com/v16"

// GClient — клиент платформы G. Поверхность уже, чем у M:
// только смена статуса кампании (PAUSED | ENABLED).
type GClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGClient создаёт клиент платформы G. Пустой baseURL — адрес по умолчанию.
func NewGClient(baseURL string) *GClient {
	if baseURL == "" {
		baseURL = defaultGBaseURL
	}
	return &GClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// UpdateCampaignStatus меняет статус кампании.
func (c *GClient) UpdateCampaignStatus(ctx context.Context, campaignID, status, token string) error {
	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}

	reqURL := fmt.Sprintf("%s/campaigns/%s/status", c.baseURL, url.PathEscape(campaignID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}
