package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/eigo-partner/backend/internal/model/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

const defaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

// ASRTranscriber 使用火山引擎双向流式 ASR 识别客户端推送的 PCM 音频
type ASRTranscriber struct {
	config *speechmodel.Config
	conns  *ConnectionManager
	audio  <-chan []byte
}

var _ session.Transcriber = (*ASRTranscriber)(nil)

// NewASRTranscriber 创建识别器。audio 为客户端上传的 16bit 单声道 PCM 分片。
func NewASRTranscriber(config *speechmodel.Config, conns *ConnectionManager, audio <-chan []byte) *ASRTranscriber {
	return &ASRTranscriber{config: config, conns: conns, audio: audio}
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// ASRRequest 火山引擎ASR请求结构（按文档格式）
type ASRRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// Start 立即返回识别流，连接在后台建立；连接失败通过 Errors() 报告
func (t *ASRTranscriber) Start(ctx context.Context, opts session.CaptureOptions) (session.CaptureStream, error) {
	appID, token, err := resolveCredentials(t.config)
	if err != nil {
		return nil, err
	}

	endpoint := t.config.ASREndpoint
	if endpoint == "" {
		endpoint = defaultASREndpoint
	}

	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if t.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent" // 并发版
	}

	// 丢弃上一次采集残留的音频
	for drained := false; !drained; {
		select {
		case <-t.audio:
		default:
			drained = true
		}
	}

	connectID := uuid.NewString()
	dialCtx, cancel := context.WithCancel(ctx)
	s := &asrStream{
		conns:     t.conns,
		connectID: connectID,
		cancel:    cancel,
		interim:   opts.Interim,
		single:    !opts.Continuous,
		segments:  make(chan session.Segment, 16),
		errs:      make(chan error, 1),
		stop:      make(chan struct{}),
		quit:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	go s.run(dialCtx, endpoint, authHeader(appID, token, resourceID, connectID), t.buildASRRequest(connectID, opts), t.audio)
	return s, nil
}

// buildASRRequest 构建符合火山引擎API格式的ASR请求
func (t *ASRTranscriber) buildASRRequest(uid string, opts session.CaptureOptions) *ASRRequest {
	req := &ASRRequest{}
	req.User.UID = uid

	req.Audio.Language = opts.Locale
	if req.Audio.Language == "" {
		req.Audio.Language = t.config.ASRLanguage
	}
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = t.config.ASRRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = 16000
	}
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full" // 全量返回，文本即当前完整假设
	req.Request.EndWindowSize = 800
	return req
}

type asrStream struct {
	conns     *ConnectionManager
	connectID string
	cancel    context.CancelFunc
	interim   bool
	single    bool

	mu   sync.Mutex
	conn *websocket.Conn

	segments chan session.Segment
	errs     chan error

	stop     chan struct{}
	quit     chan struct{}
	finished chan struct{}

	stopOnce   sync.Once
	quitOnce   sync.Once
	finishOnce sync.Once
	aborted    atomic.Bool
}

func (s *asrStream) Segments() <-chan session.Segment { return s.segments }
func (s *asrStream) Errors() <-chan error             { return s.errs }

// Stop 发送最后一包，等待服务端返回最终结果
func (s *asrStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Abort 直接断开连接，丢弃未返回的结果；握手中的连接也会被中断
func (s *asrStream) Abort() {
	s.quitOnce.Do(func() {
		s.mu.Lock()
		s.aborted.Store(true)
		conn := s.conn
		s.mu.Unlock()

		close(s.quit)
		s.cancel()
		if conn != nil {
			conn.Close()
		}
	})
}

func (s *asrStream) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *asrStream) run(ctx context.Context, endpoint string, header http.Header, req *ASRRequest, audio <-chan []byte) {
	defer s.finish()

	conn, err := s.conns.Dial(ctx, endpoint, header, s.connectID, "ASR")
	if err == nil {
		err = s.sendFullRequest(conn, req)
	}
	if err != nil {
		if !s.aborted.Load() {
			s.fail(session.KindOther, fmt.Sprintf("connect ASR: %v", err))
		}
		return
	}

	s.mu.Lock()
	if s.aborted.Load() {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	go s.sendLoop(audio)
	s.recvLoop(conn)
}

func (s *asrStream) sendFullRequest(conn *websocket.Conn, req *ASRRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := s.conns.Write(conn, frame); err != nil {
		return fmt.Errorf("failed to send ASR request: %w", err)
	}
	return nil
}

func (s *asrStream) sendLoop(audio <-chan []byte) {
	sequence := int32(2) // FullClientRequest 占用序号1，音频从2开始
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				s.Stop()
				audio = nil
				continue
			}
			if err := s.writeAudio(chunk, sequence, false); err != nil {
				log.Printf("[ASR] send audio failed: %v", err)
				return
			}
			sequence++
		case <-s.stop:
			if err := s.writeAudio(nil, sequence, true); err != nil && !s.aborted.Load() {
				log.Printf("[ASR] send last packet failed: %v", err)
			}
			return
		case <-s.quit:
			return
		case <-s.finished:
			return
		}
	}
}

func (s *asrStream) writeAudio(chunk []byte, sequence int32, last bool) error {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress audio chunk: %w", err)
	}
	frame, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, last, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode audio message: %w", err)
	}
	return s.conns.Write(s.conn, frame)
}

func (s *asrStream) recvLoop(conn *websocket.Conn) {
	for {
		data, err := s.conns.Read(conn)
		if err != nil {
			if !s.aborted.Load() && !s.stopping() {
				s.fail(session.KindOther, fmt.Sprintf("read ASR response: %v", err))
			}
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			s.fail(session.KindOther, fmt.Sprintf("decode ASR message: %v", err))
			return
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, _ := msg.DecodedPayload()
			s.fail(session.KindOther, fmt.Sprintf("ASR error %d: %s", msg.ErrorCode, payload))
			return

		case FullServerResponse:
			payload, err := msg.DecodedPayload()
			if err != nil {
				s.fail(session.KindOther, fmt.Sprintf("decompress ASR payload: %v", err))
				return
			}

			var resp asrServerMessage
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				s.fail(asrErrorKind(resp.Code), fmt.Sprintf("ASR API error %d: %s", resp.Code, resp.Message))
				return
			}

			text := resp.Result.Text
			if text == "" {
				text = joinUtterances(resp.Result.Utterances)
			}
			final := msg.IsLastPacket() || allDefinite(resp.Result.Utterances)
			if text != "" && (final || s.interim) {
				if !s.emit(session.Segment{Text: text, IsFinal: final}) {
					return
				}
			}

			if msg.IsLastPacket() {
				return
			}
			if final && s.single {
				s.Stop()
			}

		default:
			// 其他类型（如音频ACK）直接忽略
		}
	}
}

func (s *asrStream) emit(seg session.Segment) bool {
	select {
	case s.segments <- seg:
		return true
	case <-s.quit:
		return false
	}
}

func (s *asrStream) fail(kind session.TranscriptionErrorKind, detail string) {
	select {
	case s.errs <- &session.TranscriptionError{Kind: kind, Detail: detail}:
	case <-s.quit:
	}
}

func (s *asrStream) finish() {
	s.finishOnce.Do(func() {
		close(s.finished)
		close(s.segments)
		close(s.errs)
		s.cancel()
		s.conns.Release(s.connectID)
	})
}

// 空音频(45000002)与等包超时(45000081)都视为未检测到语音
func asrErrorKind(code int) session.TranscriptionErrorKind {
	switch code {
	case 45000002, 45000081:
		return session.KindNoSpeech
	default:
		return session.KindOther
	}
}

func allDefinite(utterances []asrUtterance) bool {
	if len(utterances) == 0 {
		return false
	}
	for _, u := range utterances {
		if !u.Definite {
			return false
		}
	}
	return true
}

func joinUtterances(utterances []asrUtterance) string {
	var builder strings.Builder
	for _, u := range utterances {
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(u.Text)
	}
	return builder.String()
}
