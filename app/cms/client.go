package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const pageSize = 100

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
}

func NewClient(httpClient *http.Client, baseURL, token, userAgent string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  userAgent,
	}
}

// FetchPublishedItems pages through a collection until the reported page
// count is reached or a page comes back empty, returning only entries that
// carry a publish timestamp. Any non-success page fails the whole fetch:
// partial results are never returned.
func (c *Client) FetchPublishedItems(ctx context.Context, collection string, populate []string) ([]ContentItem, error) {
	var items []ContentItem

	page := 1
	for {
		envelope, err := c.fetchPage(ctx, collection, populate, page)
		if err != nil {
			return nil, err
		}

		if len(envelope.Data) == 0 {
			break
		}

		for _, e := range envelope.Data {
			if e.Attributes.PublishedAt == nil {
				continue
			}
			items = append(items, c.normalizeEntry(e))
		}

		if page >= envelope.Meta.Pagination.PageCount {
			break
		}
		page++
	}

	slog.Debug("Fetched published items", "collection", collection, "count", len(items), "pages", page)

	return items, nil
}

// FetchChannel loads the channel metadata for a feed from its single type.
func (c *Client) FetchChannel(ctx context.Context, single string) (Channel, error) {
	data, requestURL, err := c.get(ctx, "/api/"+single, nil)
	if err != nil {
		return Channel{}, err
	}

	var envelope singleEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Channel{}, fmt.Errorf("failed to decode channel response from %s: %w", requestURL, err)
	}

	if envelope.Data == nil {
		return Channel{}, fmt.Errorf("channel response from %s has no data", requestURL)
	}

	return Channel{
		Title:       envelope.Data.Attributes.Title,
		Description: envelope.Data.Attributes.Description,
		Email:       envelope.Data.Attributes.Email,
	}, nil
}

func (c *Client) fetchPage(ctx context.Context, collection string, populate []string, page int) (*listEnvelope, error) {
	params := url.Values{}
	params.Set("sort", "publishedAt:desc")
	params.Set("pagination[page]", strconv.Itoa(page))
	params.Set("pagination[pageSize]", strconv.Itoa(pageSize))
	for i, relation := range populate {
		params.Set(fmt.Sprintf("populate[%d]", i), relation)
	}

	data, requestURL, err := c.get(ctx, "/api/"+collection, params)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode page %d of %s: %w", page, requestURL, err)
	}

	return &envelope, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, string, error) {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, requestURL, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestURL, fmt.Errorf("failed to fetch %s: %w", requestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, requestURL, &UpstreamError{Status: resp.StatusCode, URL: requestURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestURL, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, requestURL, nil
}

func (c *Client) normalizeEntry(e entry) ContentItem {
	item := ContentItem{
		ID:          e.ID,
		Slug:        e.Attributes.Slug,
		Title:       e.Attributes.Title,
		Description: e.Attributes.Description,
		Body:        e.Attributes.Content,
		PublishedAt: e.Attributes.PublishedAt,
	}

	if e.Attributes.Categories != nil {
		for _, c := range e.Attributes.Categories.Data {
			item.Categories = append(item.Categories, Category{
				Name: c.Attributes.Name,
				Slug: c.Attributes.Slug,
			})
		}
	}

	if e.Attributes.Cover != nil && e.Attributes.Cover.Data != nil {
		attrs := e.Attributes.Cover.Data.Attributes
		mediaURL := attrs.URL
		// Upstream serves locally hosted media as root-relative paths
		if strings.HasPrefix(mediaURL, "/") {
			mediaURL = c.baseURL + mediaURL
		}
		item.Cover = &Media{
			URL:    mediaURL,
			Mime:   attrs.Mime,
			Width:  attrs.Width,
			Height: attrs.Height,
			Size:   int64(attrs.Size * 1024),
		}
	}

	return item
}
