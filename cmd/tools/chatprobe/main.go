package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	"github.com/zhouzirui/eigo-partner/backend/internal/service/ai"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

// chatprobe 在终端里驱动一个会话控制器，用于手动验证模型配置与状态流转。
//
//	普通文本      直接作为文字输入提交
//	/listen       开始采集
//	/partial xx   模拟中间识别结果
//	/final xx     模拟最终识别结果
//	/send         提交
//	/cancel       取消采集
//	/dismiss      关闭错误提示
//	/quit         退出

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	personaID := flag.String("persona", "", "persona ID，默认使用 SESSION_PERSONA")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if *personaID == "" {
		*personaID = cfg.Session.PersonaID
	}

	tutor, ok := persona.NewMemoryStore(persona.Seed()).FindByID(*personaID)
	if !ok {
		log.Fatalf("persona 不存在: %s", *personaID)
	}

	ctx := context.Background()
	chatSvc, err := ai.NewService(ctx, tutor, cfg.AI)
	if err != nil {
		log.Fatalf("chat service unavailable: %v", err)
	}

	ctrl, err := session.New(ctx, session.Options{
		Persona:     tutor,
		Locale:      cfg.Session.Locale,
		Chat:        chatSvc,
		Voice:       consoleVoice{name: tutor.Name},
		Capture:     session.CaptureProviderFunc(func(context.Context) session.Capability { return session.Available(consoleTranscriber{}) }),
		ChatTimeout: cfg.Session.ChatTimeout,
		NoticeTTL:   cfg.Session.NoticeTTL,
	})
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	defer ctrl.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printStates(ctrl)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			break
		}
		if err := run(ctrl, line); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}

	ctrl.Close()
	wg.Wait()
}

func run(ctrl *session.Controller, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/listen":
		return ctrl.StartCapture()
	case "/partial":
		return ctrl.PartialTranscript(arg)
	case "/final":
		return ctrl.FinalTranscript(arg)
	case "/send":
		return ctrl.Submit()
	case "/cancel":
		return ctrl.CancelCapture()
	case "/dismiss":
		return ctrl.DismissError()
	}

	if err := ctrl.EditBuffer(line); err != nil {
		return err
	}
	return ctrl.Submit()
}

func printStates(ctrl *session.Controller) {
	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	printed := 0
	for snap := range snapshots {
		for _, msg := range snap.Transcript[printed:] {
			fmt.Printf("%-9s %s\n", msg.Sender+":", msg.Text)
		}
		printed = len(snap.Transcript)

		status := fmt.Sprintf("[%s]", snap.State)
		if snap.Buffer != "" {
			status += fmt.Sprintf(" buffer=%q", snap.Buffer)
		}
		if snap.Notice != "" {
			status += " notice=" + snap.Notice
		}
		fmt.Println(status)
	}
}

type consoleVoice struct{ name string }

func (v consoleVoice) Speak(_ context.Context, text, locale string) error {
	fmt.Printf("(%s speaks, %s) %s\n", v.name, locale, text)
	return nil
}

func (consoleVoice) CancelAll() {}

// consoleTranscriber 识别结果由 /partial 与 /final 手动输入，流本身不产出片段
type consoleTranscriber struct{}

func (consoleTranscriber) Start(context.Context, session.CaptureOptions) (session.CaptureStream, error) {
	return &consoleStream{
		segments: make(chan session.Segment),
		errs:     make(chan error),
	}, nil
}

type consoleStream struct {
	segments chan session.Segment
	errs     chan error
	once     sync.Once
}

func (s *consoleStream) Segments() <-chan session.Segment { return s.segments }
func (s *consoleStream) Errors() <-chan error             { return s.errs }
func (s *consoleStream) Stop()                            { s.Abort() }

func (s *consoleStream) Abort() {
	s.once.Do(func() {
		close(s.segments)
		close(s.errs)
	})
}
