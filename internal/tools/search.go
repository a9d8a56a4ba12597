package tools

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

type SearchTool struct {
	client *duckduckgo.Tool
}

func NewSearchTool() (*SearchTool, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *SearchTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, fmt.Errorf("search requires a 'query' parameter")
	}

	res, err := s.client.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}
