package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports configuration values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if c.Cloud.BaseURL == "" {
		problems = append(problems, "cloud.base_url must be set")
	}
	switch c.Cloud.Tier {
	case "secure", "community":
	default:
		problems = append(problems, fmt.Sprintf("cloud.tier must be \"secure\" or \"community\", got %q", c.Cloud.Tier))
	}
	if len(c.GPUPriority()) == 0 {
		problems = append(problems, "cloud gpu priority list for the selected tier is empty")
	}
	if c.Cloud.CreateAttempts < 1 {
		problems = append(problems, "cloud.create_attempts must be at least 1")
	}
	if c.Cloud.ReadyAttempts < 1 {
		problems = append(problems, "cloud.ready_attempts must be at least 1")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		problems = append(problems, fmt.Sprintf("backend.port %d is out of range", c.Backend.Port))
	}
	if c.Backend.PollAttempts < 1 {
		problems = append(problems, "backend.poll_attempts must be at least 1")
	}
	if c.Scheduler.TickIntervalSeconds < 1 {
		problems = append(problems, "scheduler.tick_interval_seconds must be at least 1")
	}
	if len(c.Workflows) == 0 {
		problems = append(problems, "at least one [workflows.<kind>] table must be configured")
	}
	for kind, wf := range c.Workflows {
		if strings.TrimSpace(kind) == "" {
			problems = append(problems, "workflow kind names must not be blank")
			continue
		}
		if wf.MaxPods < 0 {
			problems = append(problems, fmt.Sprintf("workflows.%s.max_pods must not be negative", kind))
		}
		if wf.MaxRequestsPerPod < 0 {
			problems = append(problems, fmt.Sprintf("workflows.%s.max_requests_per_pod must not be negative", kind))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
