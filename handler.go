package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ZephyrDeng/thp-checker-mcp/analyzer"
	"github.com/ZephyrDeng/thp-checker-mcp/config"
	"github.com/ZephyrDeng/thp-checker-mcp/launcher"
)

// toolHandlers holds what the MCP tools share between calls.
type toolHandlers struct {
	cfg      *config.Config
	registry *launcher.Registry
}

func (h *toolHandlers) outputFormat(args map[string]interface{}) string {
	if format, ok := args["output_format"].(string); ok && format != "" {
		return format
	}
	return h.cfg.Output.Format
}

// handleCheckUsage 处理 "check_thp_usage" 工具：分析已捕获的子进程输出。
func (h *toolHandlers) handleCheckUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	// --- 1. 获取并验证参数 ---
	logURI, ok := args["log_uri"].(string)
	if !ok || logURI == "" {
		return nil, fmt.Errorf("missing or invalid required argument: log_uri (string)")
	}
	format := h.outputFormat(args)
	log.Printf("Handling check_thp_usage: URI=%s, Format=%s", logURI, format)

	// --- 2. 分析；原始输出写入日志而不是 stdout (stdout 属于 MCP 协议) ---
	report, err := analyzeCapturedLog(ctx, logURI, log.Writer())
	return reportResult(report, err, format)
}

// handleRunCheck 处理 "run_thp_check" 工具：启动子 JVM 并分析其输出。
func (h *toolHandlers) handleRunCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := h.outputFormat(request.Params.Arguments)
	log.Printf("Handling run_thp_check: Format=%s", format)

	report, err := runCheck(ctx, h.cfg, h.registry, log.Writer())
	return reportResult(report, err, format)
}

// handleExportProfile 处理 "export_thp_profile" 工具。
func (h *toolHandlers) handleExportProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	logURI, ok := args["log_uri"].(string)
	if !ok || logURI == "" {
		return nil, fmt.Errorf("missing or invalid required argument: log_uri (string)")
	}
	outputPath, ok := args["output_path"].(string)
	if !ok || outputPath == "" {
		return nil, fmt.Errorf("missing or invalid required argument: output_path (string)")
	}
	log.Printf("Handling export_thp_profile: URI=%s, Output=%s", logURI, outputPath)

	report, path, err := exportProfile(ctx, logURI, outputPath)
	if err != nil {
		return nil, err
	}
	resultText := fmt.Sprintf("Wrote AnonHugePages profile of %d mappings (%s in heap window, verdict %s) to %s.\n",
		len(report.Regions), analyzer.FormatBytes(int64(report.Total)), report.Verdict, path)
	resultText += fmt.Sprintf("View it with: go tool pprof -top %s", path)
	return textResult(resultText, false), nil
}

// reportResult turns the outcome of CheckUsage into a tool result. A failed
// verdict is still a successful tool call; it is flagged with IsError so the
// caller sees the report.
func reportResult(report *analyzer.Report, err error, format string) (*mcp.CallToolResult, error) {
	var usageErr *analyzer.InsufficientUsageError
	if err != nil && !errors.As(err, &usageErr) {
		log.Printf("THP usage check error: %v", err)
		return nil, err
	}

	text, fmtErr := analyzer.FormatReport(report, format)
	if fmtErr != nil {
		return nil, fmtErr
	}
	log.Printf("THP usage check finished: verdict=%s total=%d", report.Verdict, report.Total)
	return textResult(text, usageErr != nil), nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
}
