package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrNotConfigured = errors.New("collaborator base url not configured")

// HTTPContactStore talks to the external contact subsystem. Field writes
// are PUTs keyed by field path so repeating them is safe.
type HTTPContactStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPContactStore(baseURL string) *HTTPContactStore {
	return &HTTPContactStore{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type fieldWrite struct {
	Path  string  `json:"path"`
	Value *string `json:"value"`
}

func (s *HTTPContactStore) UpdateField(ctx context.Context, contactID, path, value string) error {
	return s.putField(ctx, contactID, fieldWrite{Path: path, Value: &value})
}

func (s *HTTPContactStore) ClearField(ctx context.Context, contactID, path string) error {
	return s.putField(ctx, contactID, fieldWrite{Path: path})
}

func (s *HTTPContactStore) putField(ctx context.Context, contactID string, write fieldWrite) error {
	if s.BaseURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(write)
	if err != nil {
		return err
	}
	endpoint := s.BaseURL + "/contacts/" + url.PathEscape(contactID) + "/fields"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("contact store: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("contact store: status %d for contact %s", resp.StatusCode, contactID)
	}
	return nil
}
