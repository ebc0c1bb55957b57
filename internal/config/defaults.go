package config

const (
	defaultDataDir              = "~/.local/share/stitchsentry"
	defaultArtifactsDir         = "~/.local/share/stitchsentry/artifacts"
	defaultLogDir               = "~/.local/share/stitchsentry/logs"
	defaultAPIBind              = "127.0.0.1:8486"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultParserTimeout        = 20
	defaultParserConnectTimeout = 5
	defaultParserRetryTimes     = 2
	defaultParserRetrySleepMS   = 200
	defaultEventSubjectPrefix   = "stitchsentry"
	defaultBillingTimezone      = "UTC"
	defaultSubscriptionName     = "default"
	defaultWorkers              = 2
	defaultQueuePollInterval    = 2
	defaultErrorRetryInterval   = 5
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ArtifactsDir: defaultArtifactsDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Parser: Parser{
			TimeoutSeconds:        defaultParserTimeout,
			ConnectTimeoutSeconds: defaultParserConnectTimeout,
			RetryTimes:            defaultParserRetryTimes,
			RetrySleepMS:          defaultParserRetrySleepMS,
		},
		Events: Events{
			SubjectPrefix: defaultEventSubjectPrefix,
		},
		Billing: Billing{
			Timezone:         defaultBillingTimezone,
			SubscriptionName: defaultSubscriptionName,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
