package liveclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"pulse-api/internal/domain"
)

// HTTPPoller reads GET /api/v1/questions/{id}/stats, revalidating with the
// last ETag so an unchanged breakdown costs a 304.
type HTTPPoller struct {
	BaseURL    string
	VoterToken string
	Client     *http.Client

	mu    sync.Mutex
	etags map[string]string
	last  map[string]*domain.AggregateSnapshot
}

// NewHTTPPoller creates a poller against baseURL
func NewHTTPPoller(baseURL string, client *http.Client) *HTTPPoller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPoller{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  client,
		etags:   make(map[string]string),
		last:    make(map[string]*domain.AggregateSnapshot),
	}
}

// Fetch returns the current breakdown
func (p *HTTPPoller) Fetch(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	endpoint := p.BaseURL + "/api/v1/questions/" + url.PathEscape(questionID) + "/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.VoterToken != "" {
		req.Header.Set("X-Voter-Token", p.VoterToken)
	}

	p.mu.Lock()
	etag := p.etags[questionID]
	p.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll stats: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		p.mu.Lock()
		defer p.mu.Unlock()
		if snap := p.last[questionID]; snap != nil {
			return snap, nil
		}
		return nil, errors.New("poll stats: 304 without a cached snapshot")
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("poll stats: unexpected status %d", resp.StatusCode)
	}

	var snap domain.AggregateSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	p.mu.Lock()
	p.last[questionID] = &snap
	if tag := resp.Header.Get("ETag"); tag != "" {
		p.etags[questionID] = tag
	}
	p.mu.Unlock()
	return &snap, nil
}
