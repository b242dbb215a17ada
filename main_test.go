package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ZephyrDeng/thp-checker-mcp/analyzer"
	"github.com/ZephyrDeng/thp-checker-mcp/config"
	"github.com/ZephyrDeng/thp-checker-mcp/launcher"
)

const (
	passedLog       = "testdata/thp_passed.log"
	insufficientLog = "testdata/thp_insufficient.log"
	noMadvLog       = "testdata/thp_no_madv.log"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	raw, err := os.ReadFile(passedLog)
	require.NoError(t, err)

	t.Run("Passed", func(t *testing.T) {
		out, err := execute(t, "analyze", passedLog)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix([]byte(out), raw), "captured log must be echoed first")
		assert.Contains(t, out, "Verdict: PASSED")
	})

	t.Run("Insufficient", func(t *testing.T) {
		out, err := execute(t, "analyze", "--format", "json", insufficientLog)
		require.Error(t, err)
		assert.True(t, errors.Is(err, analyzer.ErrInsufficientHugePageUsage), err.Error())

		report := out[bytes.LastIndex([]byte(out), []byte("\n{"))+1:]
		assert.Equal(t, "failed", gjson.Get(report, "verdict").String())
		assert.Equal(t, uint64(256*1024), gjson.Get(report, "totalValue").Uint())
	})

	t.Run("Skipped", func(t *testing.T) {
		out, err := execute(t, "analyze", noMadvLog)
		require.NoError(t, err)
		assert.Contains(t, out, "Verdict: SKIPPED")
	})

	t.Run("HeapBaseNotFound", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "no_heap.log")
		require.NoError(t, os.WriteFile(path, []byte(
			"[0.004s][info ][pagesize ] UseTransparentHugePages=1\n"+
				"[0.006s][debug][gc,os    ] UseMadvPopulateWrite=1\n"), 0o644))
		_, err := execute(t, "analyze", path)
		assert.ErrorIs(t, err, analyzer.ErrHeapBaseNotFound)
	})

	t.Run("BadFormat", func(t *testing.T) {
		_, err := execute(t, "analyze", "--format", "xml", passedLog)
		assert.ErrorContains(t, err, "unsupported output.format")
	})
}

func TestExportCommand(t *testing.T) {
	output := filepath.Join(t.TempDir(), "thp.pb.gz")
	out, err := execute(t, "export", passedLog, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 mappings")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	p, err := profile.Parse(f)
	require.NoError(t, err)
	assert.Equal(t, "anon_huge_pages", p.SampleType[0].Type)
	assert.Len(t, p.Sample, 2)

	t.Run("SkippedLogHasNothingToExport", func(t *testing.T) {
		_, err := execute(t, "export", noMadvLog, "-o", filepath.Join(t.TempDir(), "x.pb.gz"))
		assert.ErrorContains(t, err, "nothing to export")
	})
}

func TestReadCapturedLog(t *testing.T) {
	raw, err := os.ReadFile(passedLog)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run.log" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	abs, err := filepath.Abs(passedLog)
	require.NoError(t, err)

	for name, uri := range map[string]string{
		"LocalPath": passedLog,
		"FileURI":   "file://" + abs,
		"HTTP":      srv.URL + "/run.log",
	} {
		t.Run(name, func(t *testing.T) {
			text, err := readCapturedLog(context.Background(), uri)
			require.NoError(t, err)
			assert.Equal(t, string(raw), text)
		})
	}

	t.Run("HTTPNotFound", func(t *testing.T) {
		_, err := readCapturedLog(context.Background(), srv.URL+"/missing.log")
		assert.ErrorContains(t, err, "status code 404")
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		_, err := readCapturedLog(context.Background(), "ftp://example.com/run.log")
		assert.ErrorContains(t, err, "unsupported URI scheme")
	})
}

func callTool(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestToolHandlers(t *testing.T) {
	h := &toolHandlers{cfg: config.Default(), registry: launcher.NewRegistry()}
	ctx := context.Background()

	t.Run("CheckUsagePassed", func(t *testing.T) {
		result, err := h.handleCheckUsage(ctx, callTool(map[string]interface{}{
			"log_uri":       passedLog,
			"output_format": "json",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		text := resultText(t, result)
		assert.Equal(t, "passed", gjson.Get(text, "verdict").String())
		assert.Equal(t, "0x200000000", gjson.Get(text, "heapBase").String())
	})

	t.Run("CheckUsageInsufficient", func(t *testing.T) {
		result, err := h.handleCheckUsage(ctx, callTool(map[string]interface{}{
			"log_uri": insufficientLog,
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "Verdict: FAILED")
	})

	t.Run("CheckUsageMissingURI", func(t *testing.T) {
		_, err := h.handleCheckUsage(ctx, callTool(map[string]interface{}{}))
		assert.ErrorContains(t, err, "log_uri")
	})

	t.Run("ExportProfile", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "thp.pb.gz")
		result, err := h.handleExportProfile(ctx, callTool(map[string]interface{}{
			"log_uri":     passedLog,
			"output_path": output,
		}))
		require.NoError(t, err)
		assert.Contains(t, resultText(t, result), "go tool pprof -top "+output)
		assert.FileExists(t, output)
	})

	t.Run("RunCheckSkippedByPreflight", func(t *testing.T) {
		cfg := config.Default()
		cfg.Preflight.MinMemory = ^uint64(0)
		h := &toolHandlers{cfg: cfg, registry: launcher.NewRegistry()}

		result, err := h.handleRunCheck(ctx, callTool(map[string]interface{}{"output_format": "json"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Equal(t, "skipped", gjson.Get(resultText(t, result), "verdict").String())
	})
}

// fakeJava writes a shell script standing in for the java launcher.
func fakeJava(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func launchConfig(t *testing.T, java string) *config.Config {
	cfg := config.Default()
	cfg.Preflight.Enabled = false
	cfg.Launcher.Java = java
	cfg.Launcher.Timeout = 10 * time.Second
	cfg.Launcher.LockFile = filepath.Join(t.TempDir(), "run.lock")
	cfg.Launcher.LockRetry = 10 * time.Millisecond
	return cfg
}

func TestRunCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("Passed", func(t *testing.T) {
		abs, err := filepath.Abs(passedLog)
		require.NoError(t, err)
		raw, err := os.ReadFile(abs)
		require.NoError(t, err)

		var echo bytes.Buffer
		report, err := runCheck(ctx, launchConfig(t, fakeJava(t, "cat '"+abs+"'")), launcher.NewRegistry(), &echo)
		require.NoError(t, err)
		assert.Equal(t, analyzer.VerdictPassed, report.Verdict)
		assert.Equal(t, uint64(0x200000000), report.HeapBase)
		assert.Equal(t, uint64((522240+524288)*1024), report.Total)
		assert.Equal(t, string(raw), echo.String())
	})

	t.Run("Insufficient", func(t *testing.T) {
		abs, err := filepath.Abs(insufficientLog)
		require.NoError(t, err)

		report, err := runCheck(ctx, launchConfig(t, fakeJava(t, "cat '"+abs+"'")), launcher.NewRegistry(), io.Discard)
		assert.ErrorIs(t, err, analyzer.ErrInsufficientHugePageUsage)
		require.NotNil(t, report)
		assert.Equal(t, analyzer.VerdictFailed, report.Verdict)
	})

	t.Run("ChildFailedBeforeSmaps", func(t *testing.T) {
		java := fakeJava(t, `
echo "[0.004s][info ][pagesize ] UseTransparentHugePages=1"
echo "[0.006s][debug][gc,os    ] UseMadvPopulateWrite=1"
echo "[0.016s][info ][pagesize ] Heap:  min=1G max=1G base=0x0000000200000000 size=1G page_size=2M"
echo "Error: Could not find or load main class DumpSmaps" >&2
exit 1`)
		var echo bytes.Buffer
		report, err := runCheck(ctx, launchConfig(t, java), launcher.NewRegistry(), &echo)
		assert.Nil(t, report)
		assert.ErrorIs(t, err, errChildFailed)
		assert.ErrorContains(t, err, "exit code 1")
		assert.NotErrorIs(t, err, analyzer.ErrInsufficientHugePageUsage)
		assert.Contains(t, echo.String(), "base=0x0000000200000000")
	})

	t.Run("NonZeroExitAfterSmaps", func(t *testing.T) {
		abs, err := filepath.Abs(passedLog)
		require.NoError(t, err)

		report, err := runCheck(ctx, launchConfig(t, fakeJava(t, "cat '"+abs+"'; exit 2")), launcher.NewRegistry(), io.Discard)
		require.NoError(t, err)
		assert.Equal(t, analyzer.VerdictPassed, report.Verdict)
	})
}

func TestRunCommand(t *testing.T) {
	abs, err := filepath.Abs(passedLog)
	require.NoError(t, err)
	java := fakeJava(t, "cat '"+abs+"'")

	path := filepath.Join(t.TempDir(), "thp-checker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"launcher:\n"+
			"  java: "+java+"\n"+
			"  lock_file: "+filepath.Join(t.TempDir(), "run.lock")+"\n"+
			"preflight:\n"+
			"  enabled: false\n"), 0o644))

	out, err := execute(t, "--config", path, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict: PASSED")
	assert.Contains(t, out, "Heap base: 0x200000000")
}
