package speech

import (
	"context"

	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

// Service 服务端语音能力的入口，按连接创建识别器与语音输出
type Service struct {
	config *speechmodel.Config
	conns  *ConnectionManager
	synth  *Synthesizer
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.Config) *Service {
	conns := NewConnectionManager(config.Timeout)
	return &Service{
		config: config,
		conns:  conns,
		synth:  NewSynthesizer(config, conns),
	}
}

// Enabled 表示凭证是否齐全
func (s *Service) Enabled() bool {
	return s != nil && s.config.Enabled()
}

// CaptureProvider 返回基于火山引擎 ASR 的采集能力，audio 为该连接上传的 PCM 分片
func (s *Service) CaptureProvider(audio <-chan []byte) session.CaptureProvider {
	return session.CaptureProviderFunc(func(context.Context) session.Capability {
		if !s.Enabled() {
			return session.Unavailable
		}
		return session.Available(NewASRTranscriber(s.config, s.conns, audio))
	})
}

// Voice 返回服务端合成的语音输出
func (s *Service) Voice(sink AudioSink, voice string) *TTSVoice {
	return NewTTSVoice(s.synth, sink, voice)
}

// Synthesize 直接合成整段文本
func (s *Service) Synthesize(ctx context.Context, text, voice, language string) (speechmodel.AudioChunk, error) {
	return s.synth.Synthesize(ctx, text, voice, language)
}

// ActiveConnections 返回当前上游连接数
func (s *Service) ActiveConnections() int {
	return s.conns.Count()
}

// Cleanup 清理资源
func (s *Service) Cleanup() {
	s.conns.CloseAll()
}
