package speech

import "time"

// Provider 选择语音识别/合成由谁完成
type Provider string

const (
	// ProviderBrowser 浏览器 Web Speech API 负责，服务端只转发指令
	ProviderBrowser Provider = "browser"
	// ProviderVolcengine 服务端直连火山引擎
	ProviderVolcengine Provider = "volcengine"
)

// Config 火山引擎语音配置
type Config struct {
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置
	ConcurrentMode bool   `json:"concurrentMode"`   // ASR 并发版（false 为小时版）

	// 测试时可覆盖的 WebSocket 端点
	ASREndpoint string `json:"asrEndpoint,omitempty"`
	TTSEndpoint string `json:"ttsEndpoint,omitempty"`

	ASRLanguage string `json:"asrLanguage"`
	ASRRate     int    `json:"asrRate"`

	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`
	TTSFormat   string  `json:"ttsFormat"`

	Timeout time.Duration `json:"timeout"`
}

// Enabled 表示凭证是否齐全
func (c Config) Enabled() bool {
	return c.AppID != "" && (c.AccessToken != "" || c.APIKey != "")
}
