package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"debridhub/pkg/config"
	"debridhub/pkg/logger"
)

// Client is a debrid provider REST client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
}

// NewClient creates a provider client using the given API key and rate-limit budget
func NewClient(apiKey, baseURL string, rl config.RateLimit) *Client {
	if baseURL == "" {
		baseURL = "https://api.real-debrid.com/rest/1.0"
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: newRateLimiter(rl),
	}
}

// doWithLimit performs a request under the token bucket, retrying transient
// provider failures with backoff up to the configured retry budget.
func (c *Client) doWithLimit(req *http.Request) (*http.Response, error) {
	attempt := 0
	for {
		if ok := c.limiter.waitToken(req.Context().Done()); !ok {
			return nil, fmt.Errorf("request canceled while waiting for rate limit")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt >= c.limiter.maxRetries {
				return nil, err
			}
		} else if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt >= c.limiter.maxRetries {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
		} else {
			return resp, nil
		}

		backoff := c.limiter.backoffFor(attempt)
		attempt++
		logger.Debug("[Debrid] Retrying %s after %v (attempt %d)", req.URL.Path, backoff, attempt)
		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// decodeError turns a non-2xx response into an *APIError.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: errorResp.ErrorCode, Message: errorResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}

// GetUserInfo retrieves provider account information
func (c *Client) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// GetTorrentsPage fetches one page of the torrent list and the total count
// reported by the X-Total-Count header.
func (c *Client) GetTorrentsPage(ctx context.Context, page, limit int) ([]TorrentItem, int, error) {
	if limit <= 0 {
		limit = 1000
	}
	if page <= 0 {
		page = 1
	}

	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/torrents?page=%d&limit=%d", page, limit), nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	totalCount := 0
	if totalHeader := resp.Header.Get("X-Total-Count"); totalHeader != "" {
		if count, convErr := strconv.Atoi(totalHeader); convErr == nil {
			totalCount = count
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return []TorrentItem{}, totalCount, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, decodeError(resp)
	}

	var items []TorrentItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if totalCount == 0 {
		totalCount = len(items)
	}
	return items, totalCount, nil
}

// GetAllTorrents fetches the full torrent list in pages, deduplicating ids
// in case the list shifts between pages.
func (c *Client) GetAllTorrents(ctx context.Context, limitPerPage int) ([]TorrentItem, error) {
	if limitPerPage <= 0 {
		limitPerPage = 1000
	}
	all := make([]TorrentItem, 0, limitPerPage)
	seen := make(map[string]struct{})

	page := 1
	for {
		items, _, err := c.GetTorrentsPage(ctx, page, limitPerPage)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			return all, nil
		}
		if len(items) == 0 {
			return all, nil
		}
		added := 0
		for _, it := range items {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			all = append(all, it)
			added++
		}
		if len(items) < limitPerPage || added == 0 {
			return all, nil
		}
		page++
	}
}

// GetTorrentInfo retrieves detailed information about a specific torrent
func (c *Client) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	if torrentID == "" {
		return nil, fmt.Errorf("torrent ID is empty")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/torrents/info/"+torrentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var info TorrentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// AddMagnet submits a magnet link to the provider
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResult, error) {
	payload := url.Values{"magnet": {magnet}}.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, "/torrents/addMagnet", strings.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result AddMagnetResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// SelectFiles selects which files of a torrent the provider should fetch
func (c *Client) SelectFiles(ctx context.Context, torrentID string, fileIDs []string) error {
	payload := url.Values{"files": {strings.Join(fileIDs, ",")}}.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, "/torrents/selectFiles/"+torrentID, strings.NewReader(payload))
	if err != nil {
		return err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// DeleteTorrent removes a torrent from the provider account
func (c *Client) DeleteTorrent(ctx context.Context, torrentID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/torrents/delete/"+torrentID, nil)
	if err != nil {
		return err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// UnrestrictLink resolves a raw file reference into a downloadable URL
func (c *Client) UnrestrictLink(ctx context.Context, link string) (*DownloadLink, error) {
	if link == "" {
		return nil, fmt.Errorf("link parameter is empty")
	}

	payload := url.Values{"link": {link}}.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, "/unrestrict/link", strings.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithLimit(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var downloadLink DownloadLink
	if err := json.NewDecoder(resp.Body).Decode(&downloadLink); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &downloadLink, nil
}

// IsValidAPIKey checks if the configured API key is accepted by the provider
func (c *Client) IsValidAPIKey(ctx context.Context) bool {
	_, err := c.GetUserInfo(ctx)
	return err == nil
}
