package common

import "github.com/spf13/viper"

// ===============================================================================
// Event Feed Related Config

// EventFeedConfig defines parameters for the in-memory event feed
type EventFeedConfig struct {
	// Capacity is the max number of events retained. Oldest events are
	// evicted once the limit is breached.
	Capacity int `mapstructure:"capacity" json:"capacity" validate:"required,gt=0"`
	// TaskQueueLen is the buffer length of the feed's serializing task queue
	TaskQueueLen int `mapstructure:"task_queue_len" json:"task_queue_len" validate:"required,gt=0"`
}

// ===============================================================================
// Bridge Related Config

// BridgeConfig defines parameters for the websocket pub-sub bridge
type BridgeConfig struct {
	// SendQueueLen is the per-session outbound message buffer length. Events
	// for a session whose buffer is full are dropped.
	SendQueueLen int `mapstructure:"send_queue_len" json:"send_queue_len" validate:"required,gt=0"`
	// PingInterval is the interval between liveness pings in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// PongWait is the max duration to wait for a pong before the session is
	// considered dead, in seconds
	PongWait int `mapstructure:"pong_wait_sec" json:"pong_wait_sec" validate:"gte=1"`
	// WriteTimeout is the max duration for a single websocket write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Feed Server Related Config

// FeedEndpointConfig defines feed server API endpoint config
type FeedEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the feed APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// FeedServerConfig defines configuration for the feed API server
type FeedServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the feed API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the feed API server
	Endpoints FeedEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the feed server
type SystemConfig struct {
	// Feed are the in-memory event feed config parameters
	Feed EventFeedConfig `mapstructure:"feed" json:"feed" validate:"required,dive"`
	// Bridge are the websocket bridge config parameters
	Bridge BridgeConfig `mapstructure:"bridge" json:"bridge" validate:"required,dive"`
	// API are the feed API server configs
	API FeedServerConfig `mapstructure:"api" json:"api" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default event feed settings
	viper.SetDefault("feed.capacity", 100)
	viper.SetDefault("feed.task_queue_len", 16)

	// Default bridge settings
	viper.SetDefault("bridge.send_queue_len", 32)
	viper.SetDefault("bridge.ping_interval_sec", 30)
	viper.SetDefault("bridge.pong_wait_sec", 60)
	viper.SetDefault("bridge.write_timeout_sec", 10)

	// Default feed server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.api_server.server_config.listen_port", 3000)
	viper.SetDefault("api.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.api_server.logging_config.request_id_header", "Dashfeed-Request-ID",
	)
	viper.SetDefault(
		"api.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
