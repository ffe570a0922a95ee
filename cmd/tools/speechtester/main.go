package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/speech"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

// 16kHz 16bit 单声道，每 100ms 一包
const pcmChunkBytes = 3200

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入 PCM 文件路径 (16kHz 16bit mono)")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音 ID 或别名，默认使用配置中的 TTSVoice")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	volc := cfg.Speech.Volcengine
	svc := speech.NewService(&volc)
	if !svc.Enabled() {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}
	defer svc.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, svc, cfg, *audioPath, *language)
	case "tts":
		runTTS(ctx, svc, cfg, *text, *voice, *language, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, cfg *config.Config, audioPath, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	if language == "" {
		language = cfg.Speech.Volcengine.ASRLanguage
	}

	audio := make(chan []byte, 8)
	capability := svc.CaptureProvider(audio).Resolve(ctx)
	stream, err := capability.Transcriber.Start(ctx, session.CaptureOptions{Locale: language, Continuous: true, Interim: true})
	if err != nil {
		log.Fatalf("ASR 连接失败: %v", err)
	}

	log.Printf("开始进行 ASR 测试: file=%s language=%s", audioPath, language)

	go func() {
		buf := make([]byte, pcmChunkBytes)
		for {
			n, err := io.ReadFull(file, buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case audio <- chunk:
				case <-ctx.Done():
					return
				}
				// 按实时速率推送
				time.Sleep(100 * time.Millisecond)
			}
			if err != nil {
				stream.Stop()
				return
			}
		}
	}()

	segments, errs := stream.Segments(), stream.Errors()
	for segments != nil || errs != nil {
		select {
		case seg, ok := <-segments:
			if !ok {
				segments = nil
				continue
			}
			if seg.IsFinal {
				log.Printf("ASR 最终结果: %q", seg.Text)
			} else {
				log.Printf("ASR 中间结果: %q", seg.Text)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Fatalf("ASR 识别失败: %v", err)
		case <-ctx.Done():
			stream.Abort()
			log.Fatalf("ASR 超时: %v", ctx.Err())
		}
	}
}

func runTTS(ctx context.Context, svc *speech.Service, cfg *config.Config, text, voice, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if voice == "" {
		voice = cfg.Speech.Volcengine.TTSVoice
	}

	log.Printf("开始进行 TTS 测试: voice=%s", speech.NormalizeVoiceAlias(voice))

	chunk, err := svc.Synthesize(ctx, text, voice, language)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), chunk.Format)
	}
	if err := os.WriteFile(outputPath, chunk.Data, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, %d bytes", outputPath, len(chunk.Data))
}
