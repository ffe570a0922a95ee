package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

const defaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// Synthesizer 火山引擎单向流式 TTS 客户端
type Synthesizer struct {
	config *speechmodel.Config
	conns  *ConnectionManager
}

// NewSynthesizer 创建 TTS 客户端
func NewSynthesizer(config *speechmodel.Config, conns *ConnectionManager) *Synthesizer {
	return &Synthesizer{config: config, conns: conns}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

var errEmptyAudio = errors.New("TTS audio is empty")

// Synthesize 合成整段文本，依次尝试候选音色与资源 ID
func (c *Synthesizer) Synthesize(ctx context.Context, text, voice, language string) (speechmodel.AudioChunk, error) {
	if strings.TrimSpace(text) == "" {
		return speechmodel.AudioChunk{}, fmt.Errorf("TTS text is empty")
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return speechmodel.AudioChunk{}, err
	}

	format := strings.TrimSpace(c.config.TTSFormat)
	if format == "" || format == "wav" {
		format = "mp3"
	}

	speakers := resolveTTSSpeakerCandidates(voice, c.config.TTSVoice)
	var lastMismatch error

	for speakerIdx, speaker := range speakers {
		for resourceIdx, resourceID := range resolveTTSResourceCandidates(speaker) {
			audio, attemptErr := c.synthesizeWithResource(ctx, appID, token, resourceID, speaker, text, format, language)
			if attemptErr == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					log.Printf("[TTS] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return speechmodel.AudioChunk{Format: format, Data: audio, Final: true}, nil
			}

			if !isResourceMismatchError(attemptErr) {
				return speechmodel.AudioChunk{}, attemptErr
			}
			log.Printf("[TTS] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
			lastMismatch = attemptErr
		}
	}

	if lastMismatch != nil {
		return speechmodel.AudioChunk{}, lastMismatch
	}
	return speechmodel.AudioChunk{}, fmt.Errorf("TTS synthesis failed: no compatible resource id for voices %v", speakers)
}

func (c *Synthesizer) synthesizeWithResource(ctx context.Context, appID, token, resourceID, speaker, text, format, language string) ([]byte, error) {
	endpoint := c.config.TTSEndpoint
	if endpoint == "" {
		endpoint = defaultTTSEndpoint
	}

	connectID := uuid.NewString()
	conn, err := c.conns.Dial(ctx, endpoint, authHeader(appID, token, resourceID, connectID), connectID, "TTS")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer c.conns.Release(connectID)

	// ctx 取消时断开连接，让阻塞的 ReadMessage 返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildTTSRequest(connectID, speaker, text, format, language))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := c.conns.Write(conn, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var audio bytes.Buffer
	for {
		data, err := c.conns.Read(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, _ := msg.DecodedPayload()
			return nil, fmt.Errorf("TTS error: %s", string(payload))

		case AudioOnlyServerResponse:
			chunk, err := msg.DecodedPayload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			payload, err := msg.DecodedPayload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS response payload: %w", err)
			}

			var resp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &resp); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else {
					if resp.Code != 0 && resp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", resp.Code, resp.Message)
					}
					if resp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(resp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finishedByEvent := msg.Header.MessageFlags.hasEvent() && msg.EventType == EventTypeSessionFinished
			if finishedByEvent || msg.IsLastPacket() || resp.Sequence < 0 {
				if audio.Len() == 0 {
					return nil, errEmptyAudio
				}
				return audio.Bytes(), nil
			}

		default:
			log.Printf("[TTS] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

// buildTTSRequest 构建符合火山引擎API格式的TTS请求
func (c *Synthesizer) buildTTSRequest(uid, speaker, text, format, language string) *volcengineTTSRequest {
	req := &volcengineTTSRequest{}
	req.User.UID = uid
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = format
	req.ReqParams.AudioParams.SampleRate = 24000
	req.ReqParams.AudioParams.EnableTimestamp = true

	if speed := c.config.TTSSpeed; speed > 0 && speed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = speed
	}
	if volume := c.config.TTSVolume; volume > 0 && volume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = volume
	}

	if language == "" {
		language = c.config.TTSLanguage
	}
	req.ReqParams.Language = language
	req.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return req
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

// AudioSink 接收合成好的音频并负责播放
type AudioSink interface {
	PlayAudio(chunk speechmodel.AudioChunk) error
	StopAudio()
}

// TTSVoice 实现 session.VoiceOutput：服务端合成，音频推给客户端播放
type TTSVoice struct {
	synth *Synthesizer
	sink  AudioSink
	voice string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ session.VoiceOutput = (*TTSVoice)(nil)

// NewTTSVoice 创建语音输出，voice 为人设音色（可为别名）
func NewTTSVoice(synth *Synthesizer, sink AudioSink, voice string) *TTSVoice {
	return &TTSVoice{synth: synth, sink: sink, voice: voice}
}

// Speak 取消正在进行的合成后异步合成新文本
func (v *TTSVoice) Speak(ctx context.Context, text, locale string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	v.CancelAll()

	timeout := v.synth.config.Timeout
	var synthCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		synthCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		synthCtx, cancel = context.WithCancel(ctx)
	}

	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()

		chunk, err := v.synth.Synthesize(synthCtx, text, v.voice, locale)
		if synthCtx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[TTS] synthesis failed: %v", err)
			return
		}
		if err := v.sink.PlayAudio(chunk); err != nil {
			log.Printf("[TTS] deliver audio failed: %v", err)
		}
	}()
	return nil
}

// CancelAll 停止合成并通知客户端停止播放
func (v *TTSVoice) CancelAll() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	v.sink.StopAudio()
}

// Wait 等待所有合成协程退出
func (v *TTSVoice) Wait() { v.wg.Wait() }
