package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/internal/service/conversation"
	"github.com/liuwenjie/lumina/backend/internal/service/history"
	"github.com/liuwenjie/lumina/backend/internal/service/image"
	"github.com/liuwenjie/lumina/backend/internal/service/imageflow"
)

type fakeStreamer struct {
	mu        sync.Mutex
	fragments []string
	failWith  error
	calls     int
}

func (s *fakeStreamer) Stream(_ context.Context, _ []chat.Turn, _ string) (*schema.StreamReader[*schema.Message], error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(s.fragments) + 1)
	go func() {
		defer sw.Close()
		for _, frag := range s.fragments {
			sw.Send(schema.AssistantMessage(frag, nil), nil)
		}
		if s.failWith != nil {
			sw.Send(nil, s.failWith)
		}
	}()
	return sr, nil
}

type fakeImageCapability struct {
	result *image.Result
	err    error
}

func (g *fakeImageCapability) Generate(_ context.Context, prompt string) (*image.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	res := *g.result
	res.Prompt = prompt
	return &res, nil
}

func newAssistant(t *testing.T, streamer conversation.Streamer, gen image.Generator) *Assistant {
	t.Helper()
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	msgLog := conversation.NewLog(store)
	return New(msgLog, streamer, imageflow.New(gen), nil)
}

func TestSubmitStreamsReplyIntoOneMessage(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"Hel", "lo"}}
	a := newAssistant(t, streamer, &fakeImageCapability{})

	a.SetComposer("hello there")
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	msgs := a.Log().Messages()
	// welcome + user + assistant
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(msgs), msgs)
	}
	reply := msgs[2]
	if reply.Sender != chat.SenderAssistant || reply.Text != "Hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if a.LastError() != "" {
		t.Fatalf("unexpected last error: %q", a.LastError())
	}
	if a.Composer() != "" {
		t.Fatalf("composer not cleared: %q", a.Composer())
	}
}

func TestSubmitChatFailureOverwritesPartial(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"par", "tial"}, failWith: errors.New("connection reset")}
	a := newAssistant(t, streamer, &fakeImageCapability{})

	a.SetComposer("hello")
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	msgs := a.Log().Messages()
	reply := msgs[len(msgs)-1]
	if reply.Text != ChatFailureText {
		t.Fatalf("partial message not overwritten: %q", reply.Text)
	}
	if a.LastError() == "" {
		t.Fatal("last-error slot not set")
	}

	a.DismissError()
	if a.LastError() != "" {
		t.Fatal("error banner not dismissible")
	}
}

func TestSubmitRoutesImageIntent(t *testing.T) {
	imgCap := &fakeImageCapability{result: &image.Result{MIMEType: "image/png", Data: []byte("x")}}
	a := newAssistant(t, &fakeStreamer{}, imgCap)

	a.SetComposer("/img sunset")
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	msgs := a.Log().Messages()
	reply := msgs[len(msgs)-1]
	if reply.Image == "" {
		t.Fatalf("expected image message, got %+v", reply)
	}
}

func TestSubmitImageRefusalAppendsFailureCaption(t *testing.T) {
	imgCap := &fakeImageCapability{err: image.ErrNoInlineData}
	a := newAssistant(t, &fakeStreamer{}, imgCap)

	a.SetComposer("draw a cat")
	before := len(a.Log().Messages())
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	msgs := a.Log().Messages()
	// user message + exactly one assistant failure message
	if len(msgs) != before+2 {
		t.Fatalf("expected 2 appended messages, got %d", len(msgs)-before)
	}
	if msgs[len(msgs)-1].Text != imageflow.FailureCaption {
		t.Fatalf("expected failure caption, got %q", msgs[len(msgs)-1].Text)
	}
	if a.LastError() == "" {
		t.Fatal("last-error slot not set on refusal")
	}
}

func TestRetryLastNoUserMessageIsNoop(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"hi"}}
	a := newAssistant(t, streamer, &fakeImageCapability{})

	before := a.Log().Messages()
	a.SetComposer("draft in progress")
	if err := a.RetryLast(context.Background()); err != nil {
		t.Fatalf("RetryLast err: %v", err)
	}

	if !reflect.DeepEqual(before, a.Log().Messages()) {
		t.Fatal("log changed on retry with no prior user message")
	}
	if a.Composer() != "draft in progress" {
		t.Fatalf("composer changed: %q", a.Composer())
	}
	if streamer.calls != 0 {
		t.Fatalf("unexpected remote call count: %d", streamer.calls)
	}
}

func TestRetryLastResubmitsThroughClassifier(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"again"}}
	a := newAssistant(t, streamer, &fakeImageCapability{})

	a.SetComposer("hello")
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if err := a.RetryLast(context.Background()); err != nil {
		t.Fatalf("RetryLast err: %v", err)
	}

	if streamer.calls != 2 {
		t.Fatalf("expected 2 remote calls, got %d", streamer.calls)
	}
	msgs := a.Log().Messages()
	// welcome + (user, assistant) * 2
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[3].Sender != chat.SenderUser || msgs[3].Text != "hello" {
		t.Fatalf("retry did not resubmit the last user turn: %+v", msgs[3])
	}
}

func TestClearHistoryBumpsGenerationAndResetsLog(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"hi"}}
	a := newAssistant(t, streamer, &fakeImageCapability{})

	a.SetComposer("hello")
	if err := a.Submit(context.Background()); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	gen := a.Generation()
	a.ClearHistory()

	if a.Generation() != gen+1 {
		t.Fatalf("generation not bumped: %d", a.Generation())
	}
	msgs := a.Log().Messages()
	if len(msgs) != 1 || msgs[0].Text != chat.WelcomeText {
		t.Fatalf("log not reset to welcome: %+v", msgs)
	}
	if len(a.Log().Turns()) != 0 {
		t.Fatalf("remote context survived reset: %+v", a.Log().Turns())
	}
}

func TestVoiceTranscriptAppendsToComposer(t *testing.T) {
	a := newAssistant(t, &fakeStreamer{}, &fakeImageCapability{})

	a.SetComposer("check out")
	a.appendToComposer("this view")
	if a.Composer() != "check out this view" {
		t.Fatalf("expected space-joined composer, got %q", a.Composer())
	}

	a.SetComposer("")
	a.appendToComposer("fresh start")
	if a.Composer() != "fresh start" {
		t.Fatalf("unexpected composer: %q", a.Composer())
	}
}

func TestExportProducesIndentedJSON(t *testing.T) {
	a := newAssistant(t, &fakeStreamer{fragments: []string{"hi"}}, &fakeImageCapability{})

	name, data, err := a.Export()
	if err != nil {
		t.Fatalf("Export err: %v", err)
	}
	if name == "" || len(data) == 0 {
		t.Fatal("empty export")
	}

	var decoded []chat.Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("unexpected export contents: %+v", decoded)
	}
}
