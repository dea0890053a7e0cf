package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kiennt/alpaca-playground/internal/connectors"
	"github.com/kiennt/alpaca-playground/internal/models"
)

type response struct {
	payload string
	err     error
}

// scriptedTransport replays queued responses per operation, then falls back
// to a fixed response (or an empty payload).
type scriptedTransport struct {
	mu       sync.Mutex
	queued   map[string][]response
	fallback map[string]response
	calls    map[string]int
	ops      []connectors.Operation
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		queued:   make(map[string][]response),
		fallback: make(map[string]response),
		calls:    make(map[string]int),
	}
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Do(ctx context.Context, op connectors.Operation) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op.Name]++
	s.ops = append(s.ops, op)

	r, ok := s.fallback[op.Name]
	if q := s.queued[op.Name]; len(q) > 0 {
		r, ok = q[0], true
		s.queued[op.Name] = q[1:]
	}
	if !ok || r.payload == "" {
		return nil, r.err
	}
	return json.RawMessage(r.payload), r.err
}

func (s *scriptedTransport) queue(op string, rs ...response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[op] = append(s.queued[op], rs...)
}

func (s *scriptedTransport) always(op string, r response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[op] = r
}

func (s *scriptedTransport) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func chatView(id int64) response {
	return response{payload: fmt.Sprintf(`{"data":{"chatOfBot":{"__typename":"Chat","chatId":%d}}}`, id)}
}

func lastMsg(text, state, author string) response {
	node, _ := json.Marshal(map[string]string{"text": text, "state": state, "authorNickname": author})
	return response{payload: fmt.Sprintf(`{"data":{"chatOfBot":{"messagesConnection":{"edges":[{"node":%s}]}}}}`, node)}
}

var sent = response{payload: `{"data":{"messageEdgeCreate":{"messageLimit":{"canSend":true}}}}`}

func testOptions() Options {
	return Options{
		Agents:       DefaultAgentTable(),
		PollInterval: time.Millisecond,
		PollTimeout:  5 * time.Second,
		RetryCount:   3,
		RetryDelay:   0,
	}
}

func TestAsk_CompletionDetection(t *testing.T) {
	tr := newScriptedTransport()
	tr.queue(connectors.OpChatView, chatView(99))
	tr.always(connectors.OpAddHumanMsg, sent)
	tr.queue(connectors.OpChatPagination,
		lastMsg(`{"id":0}`, "complete", "human"),
		lastMsg("", "incomplete", "a2"),
		lastMsg("old answer", "complete", "chinchilla"),
		response{payload: `{"data":{"chatOfBot":null}}`},
		lastMsg("partial", "incomplete", "a2"),
		lastMsg("final answer", "complete", "a2"),
	)
	tr.always(connectors.OpChatPagination, lastMsg("should never be read", "complete", "a2"))

	c := New("claude", tr, testOptions())
	got, err := c.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if got != "final answer" {
		t.Errorf("Expected 'final answer', got %q", got)
	}
	if n := tr.count(connectors.OpChatPagination); n != 6 {
		t.Errorf("Expected polling to stop after 6 polls, got %d", n)
	}
	if c.ChatID() != 99 {
		t.Errorf("Expected chat id 99, got %d", c.ChatID())
	}
}

func TestAsk_SubmitsToResolvedBot(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(7))
	tr.always(connectors.OpAddHumanMsg, sent)
	tr.always(connectors.OpChatPagination, lastMsg("ok", "complete", "chinchilla"))

	c := New("vn-translator", tr, testOptions())
	if c.Bot() != "vn-translator" || c.Author() != "chinchilla" {
		t.Fatalf("Unexpected resolution bot=%s author=%s", c.Bot(), c.Author())
	}
	if _, err := c.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	var submit connectors.Operation
	for _, op := range tr.ops {
		if op.Name == connectors.OpAddHumanMsg {
			submit = op
		}
	}
	if submit.Variables["bot"] != "vn-translator" {
		t.Errorf("Expected bot vn-translator, got %v", submit.Variables["bot"])
	}
	if submit.Variables["chatId"] != int64(7) {
		t.Errorf("Expected chatId 7, got %v", submit.Variables["chatId"])
	}
	if submit.Variables["query"] != "q" {
		t.Errorf("Expected query q, got %v", submit.Variables["query"])
	}
}

func TestAsk_SessionIsReused(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(5))
	tr.always(connectors.OpAddHumanMsg, sent)
	tr.always(connectors.OpChatPagination, lastMsg("x", "complete", "beaver"))

	c := New("sage", tr, testOptions())
	for i := 0; i < 3; i++ {
		if _, err := c.Ask(context.Background(), "q"); err != nil {
			t.Fatalf("Ask %d failed: %v", i, err)
		}
	}
	if n := tr.count(connectors.OpChatView); n != 1 {
		t.Errorf("Expected 1 session lookup, got %d", n)
	}
	if n := tr.count(connectors.OpAddHumanMsg); n != 3 {
		t.Errorf("Expected 3 submissions, got %d", n)
	}
}

func TestRequest_TransientRetry(t *testing.T) {
	const retries = 4
	for k := 0; k <= retries+1; k++ {
		t.Run(fmt.Sprintf("failures=%d", k), func(t *testing.T) {
			tr := newScriptedTransport()
			for i := 0; i < k; i++ {
				if i%2 == 0 {
					tr.queue(connectors.OpChatView, response{payload: "null"})
				} else {
					tr.queue(connectors.OpChatView, response{err: errors.New("connection reset")})
				}
			}
			tr.queue(connectors.OpChatView, chatView(11))

			opts := testOptions()
			opts.RetryCount = retries
			c := New("claude", tr, opts)
			payload, err := c.request(context.Background(), connectors.ChatViewQuery("a2"))

			if k < retries {
				if err != nil {
					t.Fatalf("Expected success after %d failures, got %v", k, err)
				}
				if string(payload) != chatView(11).payload {
					t.Errorf("Unexpected payload %s", payload)
				}
				return
			}
			if !errors.Is(err, ErrTransport) {
				t.Fatalf("Expected ErrTransport, got %v", err)
			}
			if payload != nil {
				t.Errorf("Expected no payload, got %s", payload)
			}
			if n := tr.count(connectors.OpChatView); n != retries {
				t.Errorf("Expected %d attempts, got %d", retries, n)
			}
		})
	}
}

func TestAsk_SessionWithoutChatID(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, response{payload: `{"data":{"chatOfBot":{"chatId":null}}}`})

	c := New("claude", tr, testOptions())
	_, err := c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}
	if n := tr.count(connectors.OpAddHumanMsg); n != 0 {
		t.Errorf("Expected no submission, got %d", n)
	}
}

func TestAsk_GraphQLErrors(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, response{payload: `{"data":null,"errors":[{"message":"bad formkey"}]}`})

	c := New("claude", tr, testOptions())
	_, err := c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}
}

func TestAsk_MessageLimit(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(1))
	tr.always(connectors.OpAddHumanMsg, response{payload: `{"data":{"messageEdgeCreate":{"messageLimit":{"canSend":false}}}}`})

	c := New("claude", tr, testOptions())
	_, err := c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}
	if n := tr.count(connectors.OpChatPagination); n != 0 {
		t.Errorf("Expected no polling, got %d polls", n)
	}
}

func TestAsk_SubmitTransportFailure(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(1))

	c := New("claude", tr, testOptions())
	_, err := c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Expected ErrTransport, got %v", err)
	}
}

func TestAsk_PollTimeout(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(1))
	tr.always(connectors.OpAddHumanMsg, sent)
	tr.always(connectors.OpChatPagination, response{payload: `{"data":{}}`})

	opts := testOptions()
	opts.PollTimeout = 50 * time.Millisecond
	c := New("claude", tr, opts)

	_, err := c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol on timeout, got %v", err)
	}
}

func TestAsk_ContextCanceled(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(1))
	tr.always(connectors.OpAddHumanMsg, sent)
	tr.always(connectors.OpChatPagination, lastMsg("", "incomplete", "a2"))

	opts := testOptions()
	opts.PollTimeout = -1
	c := New("claude", tr, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Ask(ctx, "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestPoll_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		resp response
		want models.PollState
	}{
		{"complete by author", lastMsg("done", "complete", "a2"), models.PollComplete},
		{"complete by other", lastMsg("done", "complete", "beaver"), models.PollPending},
		{"incomplete", lastMsg("do", "incomplete", "a2"), models.PollPending},
		{"empty chat", response{payload: `{"data":{"chatOfBot":{"messagesConnection":{"edges":[]}}}}`}, models.PollPending},
		{"missing connection", response{payload: `{"data":{"chatOfBot":{}}}`}, models.PollFailed},
		{"edge without node", response{payload: `{"data":{"chatOfBot":{"messagesConnection":{"edges":[{}]}}}}`}, models.PollFailed},
		{"not json", response{payload: `<html>`}, models.PollFailed},
		{"no payload", response{}, models.PollFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newScriptedTransport()
			tr.always(connectors.OpChatPagination, tt.resp)
			c := New("claude", tr, testOptions())
			out := c.Poll(context.Background())
			if out.State != tt.want {
				t.Errorf("Expected %s, got %s (reason: %v)", tt.want, out.State, out.Reason)
			}
			if out.State == models.PollFailed && out.Reason == nil {
				t.Error("Failed outcome should carry a reason")
			}
		})
	}
}

func TestReset(t *testing.T) {
	tr := newScriptedTransport()
	tr.always(connectors.OpChatView, chatView(3))
	tr.always(connectors.OpAddMessageBrk, response{payload: `{"data":{"messageBreakCreate":{}}}`})

	c := New("claude", tr, testOptions())
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n := tr.count(connectors.OpAddMessageBrk); n != 1 {
		t.Errorf("Expected 1 message break, got %d", n)
	}
}

func TestAgentTable(t *testing.T) {
	table := DefaultAgentTable()
	tests := []struct {
		name, bot, author string
	}{
		{"claude", "a2", "a2"},
		{"sage", "beaver", "beaver"},
		{"chatgpt", "chinchilla", "chinchilla"},
		{"dragonfly", "nutria", "nutria"},
		{"mybot", "mybot", "mybot"},
		{"vnclaude", "vnclaude", "chinchilla"},
	}
	for _, tt := range tests {
		if got := table.BotName(tt.name); got != tt.bot {
			t.Errorf("BotName(%s) = %s, want %s", tt.name, got, tt.bot)
		}
		if got := table.AuthorName(tt.name); got != tt.author {
			t.Errorf("AuthorName(%s) = %s, want %s", tt.name, got, tt.author)
		}
	}

	var zero AgentTable
	if zero.AuthorName("vnx") != "vnx" {
		t.Error("Zero table should resolve names verbatim")
	}

	aliases := map[string]string{"x": "y"}
	custom := NewAgentTable(aliases, "", "")
	aliases["x"] = "z"
	if custom.BotName("x") != "y" {
		t.Error("Table should not observe later changes to its input map")
	}
}
