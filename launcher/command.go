package launcher

import (
	"github.com/ZephyrDeng/thp-checker-mcp/config"
)

// FixedJVMOptions pre-touch a 1 GiB heap with THP in a single ParallelGC
// thread and log the page size and MADV_POPULATE_WRITE decisions.
var FixedJVMOptions = []string{
	"-XX:+UseTransparentHugePages", "-XX:+AlwaysPreTouch",
	"-Xlog:startuptime,pagesize,gc+os=debug",
	"-XX:+UseParallelGC", "-XX:ParallelGCThreads=1",
	"-Xms1G", "-Xmx1G", "-Xmn512M", "-XX:PreTouchParallelChunkSize=512M",
}

// CommandLine returns argv for the child JVM. program is either a main class
// or a .java source file.
func CommandLine(cfg config.LauncherConfig, program string) []string {
	args := []string{cfg.JavaBinary()}
	args = append(args, FixedJVMOptions...)
	args = append(args, cfg.ExtraOptions...)
	if cfg.Classpath != "" {
		args = append(args, "-cp", cfg.Classpath)
	}
	return append(args, program)
}
