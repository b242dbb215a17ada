package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// maxLogSize caps captured logs fetched over HTTP; an smaps dump of a JVM is a few MiB.
const maxLogSize = 256 << 20

// readCapturedLog 获取子进程的完整输出。
// - 如果输入不包含 "://", 则视为本地文件路径（相对或绝对）。
// - 如果是 file:// URI，直接使用其路径。
// - 如果是 http:// 或 https:// URI，下载其内容。
func readCapturedLog(ctx context.Context, uriStr string) (string, error) {
	// 检查输入是否包含协议头，如果没有，则假定为本地文件路径
	if !strings.Contains(uriStr, "://") {
		absPath, err := filepath.Abs(uriStr)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for '%s': %w", uriStr, err)
		}
		log.Printf("Using absolute local path: %s", absPath)
		return readLogFile(absPath)
	}

	parsedURI, err := url.Parse(uriStr)
	if err != nil {
		return "", fmt.Errorf("invalid log URI '%s': %w", uriStr, err)
	}

	switch parsedURI.Scheme {
	case "file":
		if parsedURI.Path == "" {
			return "", fmt.Errorf("invalid file path derived from URI '%s'", uriStr)
		}
		log.Printf("Using local log file: %s", parsedURI.Path)
		return readLogFile(parsedURI.Path)

	case "http", "https":
		log.Printf("Attempting to download captured log from URL: %s", uriStr)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uriStr, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build request for '%s': %w", uriStr, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to download log from '%s': %w", uriStr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("failed to download log from '%s': received status code %d", uriStr, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogSize+1))
		if err != nil {
			return "", fmt.Errorf("failed to read log from '%s': %w", uriStr, err)
		}
		if len(data) > maxLogSize {
			return "", fmt.Errorf("log from '%s' exceeds %d bytes", uriStr, maxLogSize)
		}
		log.Printf("Successfully downloaded %d bytes from %s", len(data), uriStr)
		return string(data), nil

	default:
		return "", fmt.Errorf("unsupported URI scheme '%s', only 'file://', 'http://', 'https://', or a plain local path are supported", parsedURI.Scheme)
	}
}

func readLogFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read log file '%s': %w", path, err)
	}
	return string(data), nil
}

// resolveOutputPath 将相对输出路径转换为相对于当前工作目录的绝对路径。
func resolveOutputPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty output path")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, path), nil
}
