package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// ListReportsInput takes no arguments.
type ListReportsInput struct{}

// ListReportsOutput lists stored report metadata.
type ListReportsOutput struct {
	Reports []storage.Report `json:"reports"`
}

// ReadReportInput identifies a stored report.
type ReadReportInput struct {
	ReportID string `json:"report_id" jsonschema:"The report id"`
}

// ReadReportOutput is a report with its markdown content.
type ReadReportOutput struct {
	Report  *storage.Report `json:"report"`
	Content string          `json:"content"`
}

func registerReportTools(srv *mcp.Server, deps Deps) error {
	listSchema, err := schemaFor[ListReportsInput]("list_reports")
	if err != nil {
		return err
	}
	readSchema, err := schemaFor[ReadReportInput]("read_report")
	if err != nil {
		return err
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_reports",
		Description: "List saved research reports, newest first.",
		InputSchema: listSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ListReportsInput) (*mcp.CallToolResult, ListReportsOutput, error) {
		reports, err := deps.Store.ListReports()
		if err != nil {
			return nil, ListReportsOutput{}, err
		}
		return nil, ListReportsOutput{Reports: reports}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_report",
		Description: "Read a saved research report's markdown content.",
		InputSchema: readSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ReadReportInput) (*mcp.CallToolResult, ReadReportOutput, error) {
		report, content, err := deps.Store.GetReport(input.ReportID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ReadReportOutput{}, fmt.Errorf("report %s not found", input.ReportID)
			}
			return nil, ReadReportOutput{}, err
		}
		return nil, ReadReportOutput{Report: report, Content: content}, nil
	})

	return nil
}
