// Package arc fetches SOUND VOLTEX score pages from the ARC vendor API. Pages
// are returned raw so they go through the api/arc-sdvx parser unchanged.
package arc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultMaxPages bounds how many pages one pull follows.
const DefaultMaxPages = 200

// ErrTooManyPages is returned when _links._next keeps going past the page limit.
var ErrTooManyPages = errors.New("arc: page limit reached")

// Client pulls player bests from ARC.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	maxPages   int
	logger     *slog.Logger
}

// NewClient creates an ARC client for the API at baseURL, authenticating
// with token.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  baseURL,
		maxPages: DefaultMaxPages,
		logger:   logger,
	}
}

// PlayerBests returns every page of the profile's best scores for an SDVX
// version, following _links._next until it is null.
func (c *Client) PlayerBests(ctx context.Context, profileID, version string) ([][]byte, error) {
	first, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	first = first.JoinPath("api/v1/sdvx", version, "player_bests")
	first.RawQuery = url.Values{"profile_id": {profileID}}.Encode()

	var pages [][]byte
	seen := map[string]bool{}
	for next := first; next != nil; {
		if len(pages) >= c.maxPages {
			return nil, fmt.Errorf("%w: %d pages", ErrTooManyPages, c.maxPages)
		}
		u := next.String()
		if seen[u] {
			return nil, fmt.Errorf("arc: page %s links to itself", u)
		}
		seen[u] = true

		body, link, err := c.fetchPage(ctx, u)
		if err != nil {
			return nil, err
		}
		pages = append(pages, body)

		next = nil
		if link != "" {
			if next, err = first.Parse(link); err != nil {
				return nil, fmt.Errorf("parse next link %q: %w", link, err)
			}
		}
	}
	c.logger.Debug("arc pages fetched", "profile_id", profileID, "version", version, "pages", len(pages))
	return pages, nil
}

// fetchPage returns the page body and its _links._next, or "" on the last page.
func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("arc request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read arc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("arc API error: status %d: %s", resp.StatusCode, body)
	}

	var page pageLinks
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode arc page: %w", err)
	}
	var next string
	if page.Links.Next != nil {
		next = *page.Links.Next
	}
	return body, next, nil
}

// ARC API response types. Only the pagination links are read here.

type pageLinks struct {
	Links struct {
		Next *string `json:"_next"`
	} `json:"_links"`
}
