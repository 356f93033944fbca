package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig     *AppConfig
	VisionConfig  *VisionConfig
	BrowserConfig *BrowserConfig
	AgentConfig   *AgentConfig
}

type AppConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
	TraceFile string `envconfig:"TRACE_FILE"`
}

// VisionConfig is handed to the planner on every decision cycle.
type VisionConfig struct {
	Provider            string        `envconfig:"VISION_PROVIDER" default:"openai"`
	Model               string        `envconfig:"VISION_MODEL" default:"gpt-4o-mini"`
	APIKey              string        `envconfig:"VISION_API_KEY"`
	BaseURL             string        `envconfig:"VISION_BASE_URL"`
	MaxTokens           int           `envconfig:"VISION_MAX_TOKENS" default:"300"`
	MaxCompletionTokens int           `envconfig:"VISION_MAX_COMPLETION_TOKENS" default:"2000"`
	Timeout             time.Duration `envconfig:"VISION_TIMEOUT" default:"30s"`
	AllowProModels      bool          `envconfig:"VISION_ALLOW_PRO_MODELS" default:"false"`
	AllowedModels       []string      `envconfig:"VISION_ALLOWED_MODELS"`
}

type BrowserConfig struct {
	Headless          bool    `envconfig:"BROWSER_HEADLESS" default:"false"`
	SlowMo            int     `envconfig:"BROWSER_SLOW_MO" default:"100"`
	Timeout           int     `envconfig:"BROWSER_TIMEOUT" default:"30000"`
	UserDataDir       string  `envconfig:"BROWSER_USER_DATA_DIR"`
	ViewportWidth     int     `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight    int     `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"800"`
	DeviceScaleFactor float64 `envconfig:"BROWSER_DEVICE_SCALE_FACTOR" default:"1"`
}

type AgentConfig struct {
	Selector         string        `envconfig:"AGENT_SELECTOR" default:"body"`
	MaxSteps         int           `envconfig:"AGENT_MAX_STEPS" default:"3"`
	StepDelay        time.Duration `envconfig:"AGENT_STEP_DELAY" default:"1200ms"`
	CenterFallback   bool          `envconfig:"AGENT_CENTER_FALLBACK" default:"true"`
	DOMFallback      bool          `envconfig:"AGENT_DOM_FALLBACK" default:"true"`
	StopOnNavigation bool          `envconfig:"AGENT_STOP_ON_NAVIGATION" default:"true"`
	ScrollAmount     int           `envconfig:"AGENT_SCROLL_AMOUNT" default:"500"`
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	return &conf, nil
}

// ProvideVision exposes the vision section to components that only need it.
func ProvideVision(conf *Config) *VisionConfig {
	return conf.VisionConfig
}
