// Command assistant is the terminal front end: a line-oriented REPL over
// the conversation controller. It talks to a running proxy when
// LUMINA_PROXY_URL is set, and calls providers directly otherwise.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/liuwenjie/lumina/backend/internal/client"
	"github.com/liuwenjie/lumina/backend/internal/config"
	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/internal/service/ai"
	"github.com/liuwenjie/lumina/backend/internal/service/assistant"
	"github.com/liuwenjie/lumina/backend/internal/service/conversation"
	"github.com/liuwenjie/lumina/backend/internal/service/history"
	imageservice "github.com/liuwenjie/lumina/backend/internal/service/image"
	"github.com/liuwenjie/lumina/backend/internal/service/imageflow"
	"github.com/liuwenjie/lumina/backend/internal/service/voice"
)

func main() {
	log.SetFlags(0)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgLog, err := openLog(cfg.Client)
	if err != nil {
		log.Fatalf("打开历史记录失败: %v", err)
	}

	streamer, generator, err := buildCapabilities(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	var voiceAdapter *voice.Adapter
	if cfg.Client.VoiceWSURL != "" {
		voiceAdapter = voice.NewAdapter(voice.NewWSRecognizer(cfg.Client.VoiceWSURL), cfg.Client.Language)
	}

	a := assistant.New(msgLog, streamer, imageflow.New(generator), voiceAdapter)
	r := &renderer{}
	a.OnUpdate(r.render)

	for _, msg := range msgLog.Messages() {
		r.render(msg)
	}
	r.flush()
	fmt.Println("Commands: /retry /clear /export /voice /quit")

	runREPL(ctx, a, r)
}

// openLog builds the persistent message log from the configured (or
// default per-user) history directory.
func openLog(cfg config.ClientConfig) (*conversation.Log, error) {
	dir := cfg.HistoryDir
	if dir == "" {
		var err error
		dir, err = history.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	store, err := history.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return conversation.NewLog(store), nil
}

// buildCapabilities picks proxy mode when a proxy URL is configured and
// direct provider calls otherwise.
func buildCapabilities(ctx context.Context, cfg *config.Config) (conversation.Streamer, imageservice.Generator, error) {
	if cfg.Client.ProxyURL != "" {
		proxy := client.NewProxy(cfg.Client.ProxyURL)
		log.Printf("Using proxy at %s", cfg.Client.ProxyURL)
		return proxy, proxy.ImageGenerator(), nil
	}

	if !cfg.AI.Enabled() {
		return nil, nil, fmt.Errorf("chat unavailable: set LUMINA_PROXY_URL or ARK_API_KEY + ARK_MODEL")
	}
	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize AI service: %w", err)
	}

	var generator imageservice.Generator
	if cfg.Image.Enabled() {
		generator = imageservice.NewClient(cfg.Image.BaseURL, cfg.Image.Model, cfg.Image.APIKey, cfg.Image.Timeout)
	} else {
		generator = unavailableGenerator{}
		log.Println("图片服务凭证未配置，图片请求将直接失败")
	}
	return aiService, generator, nil
}

// unavailableGenerator stands in when image credentials are absent, so
// image-intent submissions still produce the normal failure message.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string) (*imageservice.Result, error) {
	return nil, fmt.Errorf("image generation is not configured")
}

func runREPL(ctx context.Context, a *assistant.Assistant, r *renderer) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit":
			a.StopVoice()
			return
		case "/retry":
			reportSubmit(a.RetryLast(ctx))
			r.flush()
		case "/clear":
			a.ClearHistory()
			fmt.Println("History cleared.")
		case "/export":
			exportHistory(a)
		case "/voice":
			toggleVoice(ctx, a)
		default:
			a.SetComposer(line)
			reportSubmit(a.Submit(ctx))
			r.flush()
		}

		if banner := a.LastError(); banner != "" {
			fmt.Printf("! %s\n", banner)
			a.DismissError()
		}
	}
}

func reportSubmit(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func exportHistory(a *assistant.Assistant) {
	filename, payload, err := a.Export()
	if err != nil {
		fmt.Printf("! export failed: %v\n", err)
		return
	}
	if err := os.WriteFile(filename, payload, 0o644); err != nil {
		fmt.Printf("! export failed: %v\n", err)
		return
	}
	fmt.Printf("Exported to %s\n", filename)
}

func toggleVoice(ctx context.Context, a *assistant.Assistant) {
	if a.Listening() {
		a.StopVoice()
		fmt.Println("Voice capture stopped. Draft:", a.Composer())
		return
	}
	if err := a.StartVoice(ctx); err != nil {
		fmt.Printf("! voice unavailable: %v\n", err)
		return
	}
	fmt.Println("Listening... use /voice again to stop.")
}

// renderer prints log updates incrementally: a growing assistant message
// emits only the new suffix, so streamed fragments appear as they arrive.
type renderer struct {
	lastID  string
	printed string
}

func (r *renderer) render(msg chat.Message) {
	label := "lumina"
	if msg.Sender == chat.SenderUser {
		label = "you"
	}

	if msg.Image != "" {
		r.flush()
		fmt.Printf("[%s] %s (image attached, %d bytes encoded)\n", label, msg.Text, len(msg.Image))
		return
	}

	if msg.ID != r.lastID {
		r.flush()
		fmt.Printf("[%s] ", label)
		r.lastID, r.printed = msg.ID, ""
	}

	if !strings.HasPrefix(msg.Text, r.printed) {
		// Text was replaced wholesale (failure overwrite), restart the line.
		fmt.Printf("\n[%s] ", label)
		r.printed = ""
	}
	fmt.Print(strings.TrimPrefix(msg.Text, r.printed))
	r.printed = msg.Text
}

// flush terminates the in-progress line, if any.
func (r *renderer) flush() {
	if r.lastID != "" {
		fmt.Println()
		r.lastID, r.printed = "", ""
	}
}
