package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZephyrDeng/thp-checker-mcp/launcher"
)

// setupSignalHandler 设置信号处理，在退出时清理由本进程启动的子 JVM。
// The returned context is cancelled on SIGINT or SIGTERM; stop releases the handler.
func setupSignalHandler(parent context.Context, registry *launcher.Registry) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			log.Printf("Received signal: %s. Cleaning up running child processes...", sig)
			cancel()
			registry.TerminateAll()
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}
