package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

type ScraperTool struct {
	UserAgent string
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	}
}

func (s *ScraperTool) Name() string {
	return "scrape"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *ScraperTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	target := stringParam(params, "url")
	if target == "" {
		return nil, fmt.Errorf("scrape requires a 'url' parameter")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %v", err)
	}

	// Use readability to extract content
	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %v", err)
	}

	// Sanitize output (remove any remaining HTML tags or scripts)
	p := bluemonday.StrictPolicy()
	sanitized := p.Sanitize(article.TextContent)

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"

	// Limit content length so a huge page doesn't flood the chat
	content := sanitized
	if len(content) > 50000 {
		content = content[:50000] + "\n... (content truncated) ..."
	}
	output += content

	return output, nil
}
