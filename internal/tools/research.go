package tools

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// ResearchInput is the input for the perplexity_research tool.
type ResearchInput struct {
	Query string `json:"query" jsonschema:"The research question to investigate in depth"`
	Title string `json:"title,omitempty" jsonschema:"Optional title for the saved report; derived from the query when omitted"`
	Model string `json:"model,omitempty" jsonschema:"Optional model override; defaults to sonar-deep-research"`
}

// ResearchOutput is the result of a deep-research query.
type ResearchOutput struct {
	ReportID  string   `json:"report_id"`
	Answer    string   `json:"answer"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
}

func registerResearch(srv *mcp.Server, deps Deps) error {
	schema, err := schemaFor[ResearchInput]("perplexity_research")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "perplexity_research",
		Description: "Run a deep research query. The result is persisted as a markdown report and its id is returned.",
		InputSchema: schema,
	}, makeResearchHandler(deps))
	return nil
}

func makeResearchHandler(deps Deps) mcp.ToolHandlerFor[ResearchInput, ResearchOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ResearchInput) (*mcp.CallToolResult, ResearchOutput, error) {
		model := input.Model
		if model == "" {
			model = perplexity.ModelSonarDeepResearch
		}

		resp, err := deps.Client.CreateChatCompletion(ctx, perplexity.ChatRequest{
			Model: model,
			Messages: []perplexity.Message{
				{Role: "user", Content: input.Query},
			},
		})
		if err != nil {
			return nil, ResearchOutput{}, err
		}

		title := input.Title
		if title == "" {
			title = deriveTitle(input.Query)
		}

		report := &storage.Report{
			ID:        storage.NewReportID(),
			Title:     title,
			Model:     resp.Model,
			Query:     input.Query,
			Citations: resp.Citations,
		}
		if err := deps.Store.SaveReport(report, resp.Content()); err != nil {
			return nil, ResearchOutput{}, err
		}

		return nil, ResearchOutput{
			ReportID:  report.ID,
			Answer:    resp.Content(),
			Model:     resp.Model,
			Citations: resp.Citations,
		}, nil
	}
}

// deriveTitle makes a short report title from the query text. Truncation
// never splits a multi-byte rune.
func deriveTitle(query string) string {
	title := strings.TrimSpace(query)
	if len(title) <= 80 {
		return title
	}
	cut := 80
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	title = title[:cut]
	if idx := strings.LastIndexByte(title, ' '); idx > 40 {
		title = title[:idx]
	}
	return title
}
