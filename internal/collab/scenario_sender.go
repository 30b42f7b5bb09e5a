package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPScenarioSender hands a step off to the external scenario subsystem,
// which owns email/sequence content end to end.
type HTTPScenarioSender struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPScenarioSender(baseURL string) *HTTPScenarioSender {
	return &HTTPScenarioSender{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPScenarioSender) SendScenario(ctx context.Context, scenarioID, contactID string) (string, error) {
	if s.BaseURL == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(map[string]string{"contactId": contactID})
	if err != nil {
		return "", err
	}
	endpoint := s.BaseURL + "/scenarios/" + url.PathEscape(scenarioID) + "/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scenario service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("scenario service: status %d for scenario %s", resp.StatusCode, scenarioID)
	}

	var out struct {
		DeliveryID string `json:"deliveryId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("scenario service: decoding response: %w", err)
	}
	return out.DeliveryID, nil
}
