package config

const (
	defaultRegistryFile       = "~/.local/share/batchflow/registry.json"
	defaultLogDir             = "~/.local/share/batchflow/logs"
	defaultHistoryDB          = "~/.local/share/batchflow/history.db"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLockTimeoutSeconds = 10
	defaultLockRetryMillis    = 50
	defaultStepTimeoutSeconds = 4 * 3600
	defaultHTTPTimeoutSeconds = 60
	defaultNotifyTimeout      = 10
	defaultFFmpegBinary       = "ffmpeg"
	defaultExifToolBinary     = "exiftool"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RegistryFile: defaultRegistryFile,
			LogDir:       defaultLogDir,
			HistoryDB:    defaultHistoryDB,
		},
		Registry: Registry{
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
			LockRetryMillis:    defaultLockRetryMillis,
		},
		Tools: Tools{
			FFmpeg:   defaultFFmpegBinary,
			ExifTool: defaultExifToolBinary,
		},
		Steps: Steps{
			TimeoutSeconds:     defaultStepTimeoutSeconds,
			HTTPTimeoutSeconds: defaultHTTPTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
