package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ZephyrDeng/thp-checker-mcp/analyzer"
	"github.com/ZephyrDeng/thp-checker-mcp/config"
	"github.com/ZephyrDeng/thp-checker-mcp/launcher"
)

const version = "0.1.0"

type options struct {
	configPath string
	format     string
	output     string
}

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "thp-checker",
		Short:        "Check that a pre-touched JVM heap is backed by transparent huge pages",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a yaml config file")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "", "report format: text, markdown, json, flamegraph-json")
	cmd.SetOut(stdout)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the THP tools over MCP stdio (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(opts)
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Launch the child JVM and check its heap for huge pages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				registry := launcher.NewRegistry()
				ctx, stop := setupSignalHandler(cmd.Context(), registry)
				defer stop()

				report, err := runCheck(ctx, cfg, registry, cmd.OutOrStdout())
				return printReport(cmd.OutOrStdout(), report, err, cfg.Output.Format)
			},
		},
		&cobra.Command{
			Use:   "analyze <log-uri>",
			Short: "Check output captured from an earlier child run (path, file:// or http(s)://)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				report, err := analyzeCapturedLog(cmd.Context(), args[0], cmd.OutOrStdout())
				return printReport(cmd.OutOrStdout(), report, err, cfg.Output.Format)
			},
		},
		newExportCommand(opts),
	)
	return cmd
}

func newExportCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <log-uri>",
		Short: "Write the heap window's AnonHugePages as a pprof profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, path, err := exportProfile(cmd.Context(), args[0], opts.output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d mappings (%s AnonHugePages, verdict %s) to %s\n",
				len(report.Regions), analyzer.FormatBytes(int64(report.Total)), report.Verdict, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "thp.pb.gz", "where to write the profile")
	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.format != "" {
		cfg.Output.Format = opts.format
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// printReport writes the formatted report after the echoed log. The returned
// error is the check's own error, so a failed verdict exits non-zero.
func printReport(w io.Writer, report *analyzer.Report, checkErr error, format string) error {
	if report == nil {
		return checkErr
	}
	text, err := analyzer.FormatReport(report, format)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, text)
	return checkErr
}

// serve blocks until stdin closes or SIGINT/SIGTERM; ServeStdio handles the signals.
func serve(opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	registry := launcher.NewRegistry()
	defer registry.TerminateAll()

	// 1. 初始化 MCP 服务器
	mcpServer := newMCPServer(cfg, registry)

	// 2. Start the server using stdio transport
	log.Println("Starting THPChecker MCP server via stdio...")
	if err := server.ServeStdio(mcpServer); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newMCPServer(cfg *config.Config, registry *launcher.Registry) *server.MCPServer {
	h := &toolHandlers{cfg: cfg, registry: registry}

	mcpServer := server.NewMCPServer(
		"THPChecker",          // 服务器名称
		version,               // 服务器版本
		server.WithLogging(),  // 启用日志记录
		server.WithRecovery(), // 启用 panic 恢复
	)

	formatOption := mcp.WithString("output_format",
		mcp.Description("分析结果的输出格式。"),
		mcp.DefaultString(cfg.Output.Format),
		mcp.Enum("text", "markdown", "json", "flamegraph-json"),
	)

	checkTool := mcp.NewTool("check_thp_usage",
		mcp.WithDescription("Analyze captured JVM output (startup log plus /proc/self/smaps dump) and check that at least 512 KiB of the 1 GiB window above the heap base is backed by transparent huge pages."),
		mcp.WithString("log_uri",
			mcp.Description("URI of the captured output ('file://', 'http://', 'https://' or a local path)."),
			mcp.Required(),
		),
		formatOption,
	)

	runTool := mcp.NewTool("run_thp_check",
		mcp.WithDescription("Launch a JVM that pre-touches a 1 GiB heap with THP and MADV_POPULATE_WRITE, dump its smaps and check huge page usage. Only one run at a time."),
		formatOption,
	)

	exportTool := mcp.NewTool("export_thp_profile",
		mcp.WithDescription("Write the AnonHugePages of every mapping in the heap window as a pprof profile (gzip protobuf)."),
		mcp.WithString("log_uri",
			mcp.Description("URI of the captured output ('file://', 'http://', 'https://' or a local path)."),
			mcp.Required(),
		),
		mcp.WithString("output_path",
			mcp.Description("Where to write the profile (absolute or relative to the server's working directory)."),
			mcp.Required(),
		),
	)

	mcpServer.AddTool(checkTool, h.handleCheckUsage)
	mcpServer.AddTool(runTool, h.handleRunCheck)
	mcpServer.AddTool(exportTool, h.handleExportProfile)
	return mcpServer
}
