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

	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/gemini"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"

	defaultGeminiModel = "gemini-2.5-flash"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	Session SessionConfig
}

// Load 从环境变量加载配置。缺少模型凭证不算加载失败，由 AIConfig.Validate 报告。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Speech: speech, Session: sess}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	// Gemini
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Ark
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	HistoryLimit int
}

// Enabled 表示当前 provider 的必需凭证是否齐全。
func (c AIConfig) Enabled() bool {
	return c.Validate() == nil
}

// Validate 返回缺失凭证的原因，错误可用 errors.Is(err, session.ErrConfiguration) 判断。
func (c AIConfig) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY (or API_KEY) is not set", session.ErrConfiguration)
		}
	case ProviderArk:
		if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
			return fmt.Errorf("%w: Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合", session.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown AI_PROVIDER %q", session.ErrConfiguration, c.Provider)
	}
	return nil
}

// ModelName 返回实际调用的模型名。
func (c AIConfig) ModelName() string {
	if c.Provider == ProviderArk {
		return c.Model
	}
	return c.GeminiModel
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
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

	if c.Provider == ProviderGemini {
		cfg := &gemini.Config{
			APIKey:      c.GeminiAPIKey,
			Model:       c.GeminiModel,
			BaseURL:     c.GeminiBaseURL,
			Temperature: temperature,
			TopP:        topP,
		}
		if c.MaxTokens != nil {
			val := int32(*c.MaxTokens)
			cfg.MaxOutputTokens = &val
		}
		return gemini.NewChatModel(ctx, cfg)
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 0
	if limit, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if limit != nil && *limit > 0 {
		historyLimit = *limit
	}

	geminiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if geminiKey == "" {
		geminiKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}

	return AIConfig{
		Provider:      provider,
		GeminiAPIKey:  geminiKey,
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", defaultGeminiModel),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", ""),
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		HistoryLimit:  historyLimit,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	ASRProvider speechmodel.Provider
	TTSProvider speechmodel.Provider
	Volcengine  speechmodel.Config
}

func loadSpeechConfig() (SpeechConfig, error) {
	asrProvider, err := parseProviderEnv("SPEECH_ASR_PROVIDER")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsProvider, err := parseProviderEnv("SPEECH_TTS_PROVIDER")
	if err != nil {
		return SpeechConfig{}, err
	}

	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	rate := 16000
	if override, err := parseOptionalIntEnv("SPEECH_ASR_RATE"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil && *override > 0 {
		rate = *override
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	volc := speechmodel.Config{
		AppID:          strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:    accessToken,
		APIKey:         apiKey,
		ConcurrentMode: concurrent,
		ASREndpoint:    getEnvOrDefault("SPEECH_ASR_ENDPOINT", ""),
		TTSEndpoint:    getEnvOrDefault("SPEECH_TTS_ENDPOINT", ""),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRRate:        rate,
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		TTSFormat:      getEnvOrDefault("SPEECH_TTS_FORMAT", "mp3"),
		Timeout:        timeout,
	}

	if (asrProvider == speechmodel.ProviderVolcengine || ttsProvider == speechmodel.ProviderVolcengine) && !volc.Enabled() {
		return SpeechConfig{}, fmt.Errorf("volcengine speech provider selected but SPEECH_APP_ID / SPEECH_ACCESS_TOKEN are missing")
	}

	return SpeechConfig{ASRProvider: asrProvider, TTSProvider: ttsProvider, Volcengine: volc}, nil
}

// SessionConfig 描述会话控制器的运行参数
type SessionConfig struct {
	PersonaID   string
	Locale      string
	ChatTimeout time.Duration
	NoticeTTL   time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	chatTimeout, err := parseDurationEnv("SESSION_CHAT_TIMEOUT", session.DefaultChatTimeout)
	if err != nil {
		return SessionConfig{}, err
	}

	noticeTTL, err := parseDurationEnv("SESSION_NOTICE_TTL", session.DefaultNoticeTTL)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		PersonaID:   getEnvOrDefault("SESSION_PERSONA", persona.DefaultID),
		Locale:      getEnvOrDefault("SESSION_LOCALE", "en-US"),
		ChatTimeout: chatTimeout,
		NoticeTTL:   noticeTTL,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseProviderEnv(key string) (speechmodel.Provider, error) {
	raw := strings.ToLower(getEnvOrDefault(key, string(speechmodel.ProviderBrowser)))
	switch speechmodel.Provider(raw) {
	case speechmodel.ProviderBrowser, speechmodel.ProviderVolcengine:
		return speechmodel.Provider(raw), nil
	default:
		return "", fmt.Errorf("invalid %s value %q", key, raw)
	}
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

// parseDurationEnv 接受 Go duration（"30s"）或纯数字秒数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
