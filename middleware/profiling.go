package middleware

import (
	"fmt"
	"os"

	"github.com/grafana/pyroscope-go"

	"github.com/duynhne/portfolio-client/config"
)

var profiler *pyroscope.Profiler

// InitProfiling starts Pyroscope continuous profiling for the session
// agent.
func InitProfiling(cfg *config.Config) error {
	hostname, _ := os.Hostname()

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Service.Name,
		ServerAddress:   cfg.Profiling.Endpoint,
		Tags: map[string]string{
			"hostname": hostname,
			"env":      cfg.Service.Env,
			"version":  cfg.Service.Version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return fmt.Errorf("start pyroscope: %w", err)
	}

	profiler = p
	return nil
}

// StopProfiling flushes and stops the profiler if it was started.
func StopProfiling() {
	if profiler != nil {
		_ = profiler.Stop()
		profiler = nil
	}
}
