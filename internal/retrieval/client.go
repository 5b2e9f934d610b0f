// Package retrieval queries the vector store for passages relevant to a message.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Retriever returns context text for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Client posts similarity queries to a vector store HTTP endpoint.
//
// Request:  {"query": "...", "top_k": 4}
// Response: {"documents": [{"content": "...", "metadata": {...}}]}
type Client struct {
	url        string
	apiKey     string
	topK       int
	httpClient *http.Client
}

// NewClient creates a retrieval client.
func NewClient(url, apiKey string, topK int, timeout time.Duration) *Client {
	if topK <= 0 {
		topK = 4
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		topK:       topK,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Document is one retrieved passage.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type queryResponse struct {
	Documents []Document `json:"documents"`
}

// Search returns the matching documents in relevance order.
func (c *Client) Search(ctx context.Context, query string) ([]Document, error) {
	payload, err := json.Marshal(queryRequest{Query: query, TopK: c.topK})
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read retrieval response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval non-success status=%d", resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse retrieval response: %w", err)
	}
	return parsed.Documents, nil
}

// Retrieve returns the matching passages joined by blank lines.
func (c *Client) Retrieve(ctx context.Context, query string) (string, error) {
	docs, err := c.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return Join(docs), nil
}

// Join concatenates document contents separated by a blank line.
func Join(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}
