package config

const (
	defaultDataDir                   = "~/.local/share/kiln"
	defaultLogDir                    = "~/.local/share/kiln/logs"
	defaultAPIBind                   = "127.0.0.1:7690"
	defaultCloudBaseURL              = "https://rest.runpod.io/v1"
	defaultCloudProxyDomain          = "proxy.runpod.net"
	defaultCloudTier                 = "secure"
	defaultCreateAttempts            = 3
	defaultCreateRetrySeconds        = 5
	defaultReadyAttempts             = 60
	defaultReadyInterval             = 5
	defaultReadyConfirmations        = 2
	defaultCloudRequestTimeout       = 30
	defaultBackendPort               = 8188
	defaultBackendTimeout            = 30
	defaultBackendPollAttempts       = 120
	defaultBackendPollInterval       = 5
	defaultTickIntervalSeconds       = 2
	defaultErrorRetrySeconds         = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultWorkflowMaxPods           = 1
	defaultWorkflowMaxRequestsPerPod = 3
	defaultWorkflowPauseTimeout      = 300
	defaultWorkflowTerminateTimeout  = 1800
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Cloud: Cloud{
			BaseURL:     defaultCloudBaseURL,
			ProxyDomain: defaultCloudProxyDomain,
			Tier:        defaultCloudTier,
			SecureGPUPriority: []string{
				"NVIDIA GeForce RTX 4090",
				"NVIDIA RTX A5000",
				"NVIDIA RTX A4500",
			},
			CommunityGPUPriority: []string{
				"NVIDIA GeForce RTX 3090",
				"NVIDIA RTX A4000",
			},
			CreateAttempts:       defaultCreateAttempts,
			CreateRetrySeconds:   defaultCreateRetrySeconds,
			ReadyAttempts:        defaultReadyAttempts,
			ReadyIntervalSeconds: defaultReadyInterval,
			ReadyConfirmations:   defaultReadyConfirmations,
			RequestTimeout:       defaultCloudRequestTimeout,
		},
		Backend: Backend{
			Port:                defaultBackendPort,
			RequestTimeout:      defaultBackendTimeout,
			PollAttempts:        defaultBackendPollAttempts,
			PollIntervalSeconds: defaultBackendPollInterval,
		},
		Scheduler: Scheduler{
			TickIntervalSeconds: defaultTickIntervalSeconds,
			ErrorRetrySeconds:   defaultErrorRetrySeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Workflows: map[string]Workflow{
			"image": {
				MaxPods:                 2,
				MaxRequestsPerPod:       3,
				PauseTimeoutSeconds:     300,
				TerminateTimeoutSeconds: 1800,
			},
			"image_refine": {
				MaxPods:                 1,
				MaxRequestsPerPod:       3,
				PauseTimeoutSeconds:     300,
				TerminateTimeoutSeconds: 1800,
			},
			"video": {
				MaxPods:                 1,
				MaxRequestsPerPod:       1,
				PauseTimeoutSeconds:     600,
				TerminateTimeoutSeconds: 3600,
			},
			"audio": {
				MaxPods:                 1,
				MaxRequestsPerPod:       2,
				PauseTimeoutSeconds:     300,
				TerminateTimeoutSeconds: 1800,
			},
		},
	}
}
