package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server Server
	AI     AIConfig
	Image  ImageConfig
	Speech SpeechConfig
	Client ClientConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	img, err := loadImageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Image:  img,
		Speech: loadSpeechConfig(),
		Client: loadClientConfig(),
	}, nil
}

// Server 描述 HTTP 服务配置。
type Server struct {
	Addr string
}

func loadServerConfig() (Server, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return Server{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return Server{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return Server{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// ImageConfig 描述图片生成服务配置。
type ImageConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether image generation credentials are present.
func (c ImageConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadImageConfig() (ImageConfig, error) {
	timeout, err := parseOptionalIntEnv("IMAGE_TIMEOUT")
	if err != nil {
		return ImageConfig{}, err
	}
	timeoutSeconds := 60
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return ImageConfig{
		APIKey:  strings.TrimSpace(os.Getenv("IMAGE_API_KEY")),
		Model:   getEnvOrDefault("IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation"),
		BaseURL: getEnvOrDefault("IMAGE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// SpeechConfig points the voice relay at an upstream transcription
// websocket. When unset the relay answers 503 and clients fall back to
// typing.
type SpeechConfig struct {
	UpstreamWSURL string
	Language      string
	Enabled       bool
}

func loadSpeechConfig() SpeechConfig {
	upstream := strings.TrimSpace(os.Getenv("SPEECH_WS_URL"))
	return SpeechConfig{
		UpstreamWSURL: upstream,
		Language:      getEnvOrDefault("SPEECH_LANGUAGE", "en-IN"),
		Enabled:       upstream != "",
	}
}

// ClientConfig drives the terminal assistant.
type ClientConfig struct {
	ProxyURL   string
	HistoryDir string
	VoiceWSURL string
	Language   string
}

func loadClientConfig() ClientConfig {
	return ClientConfig{
		ProxyURL:   strings.TrimSpace(os.Getenv("LUMINA_PROXY_URL")),
		HistoryDir: strings.TrimSpace(os.Getenv("LUMINA_HISTORY_DIR")),
		VoiceWSURL: strings.TrimSpace(os.Getenv("LUMINA_VOICE_WS_URL")),
		Language:   getEnvOrDefault("LUMINA_VOICE_LANGUAGE", "en-IN"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
