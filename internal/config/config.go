package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/paidflow/internal/schema"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Logging     LoggingConfig  `yaml:"logging"`
	App         AppConfig      `yaml:"app"`
	Payment     PaymentConfig  `yaml:"payment"`
	Workflow    WorkflowConfig `yaml:"workflow"`
	Worker      WorkerConfig   `yaml:"worker"`
	Events      RabbitMQConfig `yaml:"events"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	InputSchema []schema.Field `yaml:"input_schema"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// PaymentConfig holds payment service settings
type PaymentConfig struct {
	ServiceURL         string        `yaml:"service_url"`
	APIKey             string        `yaml:"api_key"`
	AgentIdentifier    string        `yaml:"agent_identifier"`
	SellerVKey         string        `yaml:"seller_vkey"`
	Network            string        `yaml:"network"`
	Amount             int64         `yaml:"amount"`
	Unit               string        `yaml:"unit"`
	PayByWindow        time.Duration `yaml:"pay_by_window"`
	SubmitResultWindow time.Duration `yaml:"submit_result_window"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// WorkflowConfig holds workflow service settings
type WorkflowConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	FlowNameContains string        `yaml:"flow_name_contains"`
	PayloadKey       string        `yaml:"payload_key"`
	PrimaryFieldID   string        `yaml:"primary_field_id"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	SuccessStatuses  StringList    `yaml:"success_statuses"`
	ErrorStatuses    StringList    `yaml:"error_statuses"`
	ResultPath       string        `yaml:"result_path"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// WorkerConfig holds the task pool configuration
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RabbitMQConfig holds the job event publisher configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StringList accepts either a YAML sequence or a comma-separated scalar,
// so status lists can come from a single environment variable.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
	case yaml.ScalarNode:
		var out []string
		for _, s := range strings.Split(node.Value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*l = out
	default:
		return fmt.Errorf("line %d: expected a list or comma-separated string", node.Line)
	}
	return nil
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Payment.Amount == 0 {
		c.Payment.Amount = 3000000
	}
	if c.Payment.Unit == "" {
		c.Payment.Unit = "lovelace"
	}
	if c.Payment.PayByWindow == 0 {
		c.Payment.PayByWindow = time.Hour
	}
	if c.Payment.SubmitResultWindow == 0 {
		c.Payment.SubmitResultWindow = 12 * time.Hour
	}
	if c.Payment.PollInterval == 0 {
		c.Payment.PollInterval = 10 * time.Second
	}
	if c.Workflow.PollInterval == 0 {
		c.Workflow.PollInterval = 10 * time.Second
	}
	if c.Workflow.PollTimeout == 0 {
		c.Workflow.PollTimeout = 300 * time.Second
	}
	if len(c.Workflow.SuccessStatuses) == 0 {
		c.Workflow.SuccessStatuses = StringList{"finished", "completed"}
	}
	if len(c.Workflow.ErrorStatuses) == 0 {
		c.Workflow.ErrorStatuses = StringList{"failed", "error", "cancelled", "timeout"}
	}
	if c.Workflow.ResultPath == "" {
		c.Workflow.ResultPath = "final.CrewOutput.raw"
	}
	if c.Workflow.RequestTimeout == 0 {
		c.Workflow.RequestTimeout = 60 * time.Second
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if len(c.InputSchema) == 0 {
		c.InputSchema = schema.DefaultFields()
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validatePayment(); err != nil {
		return err
	}

	if err := c.validateWorkflow(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
		if c.Events.Exchange.Name == "" {
			return fmt.Errorf("events exchange name is required")
		}
	}

	return nil
}

func (c *Config) validatePayment() error {
	p := c.Payment
	if p.ServiceURL == "" {
		return fmt.Errorf("payment service_url is required")
	}
	if p.AgentIdentifier == "" {
		return fmt.Errorf("payment agent_identifier is required")
	}
	if p.SellerVKey == "" {
		return fmt.Errorf("payment seller_vkey is required")
	}
	if p.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("payment amount must be greater than 0")
	}
	if p.PayByWindow <= 0 || p.SubmitResultWindow <= 0 || p.PollInterval <= 0 {
		return fmt.Errorf("payment windows and poll_interval must be greater than 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.BaseURL == "" {
		return fmt.Errorf("workflow base_url is required")
	}
	if w.Username == "" || w.Password == "" {
		return fmt.Errorf("workflow username and password are required")
	}
	if w.FlowNameContains == "" {
		return fmt.Errorf("workflow flow_name_contains is required")
	}
	if w.PayloadKey == "" {
		return fmt.Errorf("workflow payload_key is required")
	}
	if w.PrimaryFieldID == "" {
		return fmt.Errorf("workflow primary_field_id is required")
	}
	if !schema.New(c.InputSchema).Has(w.PrimaryFieldID) {
		return fmt.Errorf("workflow primary_field_id %q is not defined in input_schema", w.PrimaryFieldID)
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("workflow poll_interval must be greater than 0")
	}
	if w.PollTimeout <= 0 {
		return fmt.Errorf("workflow poll_timeout must be greater than 0")
	}
	if len(w.SuccessStatuses) == 0 || len(w.ErrorStatuses) == 0 {
		return fmt.Errorf("workflow success_statuses and error_statuses must not be empty")
	}

	success := make(map[string]bool, len(w.SuccessStatuses))
	for _, s := range w.SuccessStatuses {
		success[strings.ToLower(strings.TrimSpace(s))] = true
	}
	for _, s := range w.ErrorStatuses {
		if success[strings.ToLower(strings.TrimSpace(s))] {
			return fmt.Errorf("workflow status %q is listed as both success and error", s)
		}
	}
	return nil
}
