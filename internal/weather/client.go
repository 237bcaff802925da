package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/ratelimit"
)

const (
	defaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// requestTimeout — потолок одного запроса погоды.
	requestTimeout = 10 * time.Second

	maxErrorBody = 4 * 1024
)

// Client — клиент погодного API (current weather, metric units).
//
// Возвращает *ratelimit.APIError для неуспешных HTTP-ответов, чтобы
// лимитер мог классифицировать ошибку и учесть серверный Retry-After.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиент. Пустой baseURL — адрес по умолчанию.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// currentResponse — ответ эндпоинта /weather.
type currentResponse struct {
	Weather []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Snow struct {
		OneHour float64 `json:"1h"`
	} `json:"snow"`
	// Visibility приходит в метрах.
	Visibility float64 `json:"visibility"`
	DT         int64   `json:"dt"`
}

// CurrentWeather возвращает снимок текущей погоды в точке (lat, lon).
//
// Единицы снимка: °C, м/с, мм/ч, км, %. Осадки — дождь за последний
// час, при его отсутствии снег.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) (*domain.WeatherSnapshot, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)

	reqURL := c.baseURL + "/weather?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ratelimit.NewAPIError(resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var data currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	snapshot := &domain.WeatherSnapshot{
		Temperature:   data.Main.Temp,
		Humidity:      data.Main.Humidity,
		WindSpeed:     data.Wind.Speed,
		Precipitation: data.Rain.OneHour,
		Visibility:    data.Visibility / 1000, // м → км
		CloudCover:    data.Clouds.All,
		ObservedAt:    time.Unix(data.DT, 0).UTC(),
	}
	if snapshot.Precipitation == 0 {
		snapshot.Precipitation = data.Snow.OneHour
	}
	if len(data.Weather) > 0 {
		snapshot.Description = data.Weather[0].Description
		snapshot.Icon = data.Weather[0].Icon
		snapshot.ConditionID = data.Weather[0].ID
	}
	return snapshot, nil
}
