// Package completion drives the submit-then-poll chat protocol for one agent.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiennt/alpaca-playground/internal/connectors"
	"github.com/kiennt/alpaca-playground/internal/models"
)

// Defaults for Options fields left at zero.
const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultPollTimeout  = 10 * time.Minute
	DefaultRetryCount   = 5
	DefaultRetryDelay   = 500 * time.Millisecond
)

// Options tunes a Client.
type Options struct {
	Agents       AgentTable
	PollInterval time.Duration
	// PollTimeout bounds the wait for a completed reply. Negative disables it.
	PollTimeout time.Duration
	RetryCount  int
	RetryDelay  time.Duration
}

// DefaultOptions returns options with the built-in agent table.
func DefaultOptions() Options {
	return Options{
		Agents:       DefaultAgentTable(),
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
		RetryCount:   DefaultRetryCount,
		RetryDelay:   DefaultRetryDelay,
	}
}

// Client holds one chat session with one agent. It is not safe for
// concurrent use; each worker owns its own Client.
type Client struct {
	transport connectors.Transport
	agent     string
	bot       string
	author    string
	opts      Options
	chatID    int64
}

// New creates a client for the logical agent name. The session is opened
// lazily on the first Ask.
func New(agent string, t connectors.Transport, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = DefaultRetryCount
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &Client{
		transport: t,
		agent:     agent,
		bot:       opts.Agents.BotName(agent),
		author:    opts.Agents.AuthorName(agent),
		opts:      opts,
	}
}

// Agent returns the logical agent name.
func (c *Client) Agent() string { return c.agent }

// Bot returns the remote bot handle.
func (c *Client) Bot() string { return c.bot }

// Author returns the author nickname that marks a reply as ours.
func (c *Client) Author() string { return c.author }

// ChatID returns the session handle, or 0 before the first request.
func (c *Client) ChatID() int64 { return c.chatID }

// Ask submits query and blocks until the agent's completed reply arrives,
// the poll timeout expires, or ctx is done.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	if err := c.submit(ctx, query); err != nil {
		return "", err
	}
	return c.awaitCompletion(ctx)
}

// Reset inserts a chat break so earlier messages no longer shape replies.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	if _, err := c.request(ctx, connectors.AddMessageBreak(c.chatID)); err != nil {
		return fmt.Errorf("reset chat %d: %w", c.chatID, err)
	}
	return nil
}

// Poll fetches the latest message once and classifies it.
func (c *Client) Poll(ctx context.Context) models.PollOutcome {
	payload, err := c.request(ctx, connectors.ChatPagination(c.bot, 1))
	if err != nil {
		return models.Failed(err)
	}
	msg, ok, err := lastMessage(payload)
	if err != nil {
		return models.Failed(err)
	}
	if !ok {
		return models.Pending()
	}
	if msg.State == models.MessageStateComplete && msg.Author == c.author {
		return models.Complete(msg.Text)
	}
	return models.Pending()
}

func (c *Client) ensureSession(ctx context.Context) error {
	if c.chatID != 0 {
		return nil
	}
	payload, err := c.request(ctx, connectors.ChatViewQuery(c.bot))
	if err != nil {
		return fmt.Errorf("open session for %s: %w", c.bot, err)
	}

	var resp struct {
		ChatOfBot *struct {
			ChatID json.RawMessage `json:"chatId"`
		} `json:"chatOfBot"`
	}
	if err := decodeData(payload, &resp); err != nil {
		return fmt.Errorf("open session for %s: %w", c.bot, err)
	}
	if resp.ChatOfBot == nil {
		return fmt.Errorf("%w: no chat for bot %s", ErrProtocol, c.bot)
	}
	id, err := parseChatID(resp.ChatOfBot.ChatID)
	if err != nil {
		return fmt.Errorf("open session for %s: %w", c.bot, err)
	}
	c.chatID = id
	return nil
}

// submit sends the query. Completion is detected by polling, so the reply
// is only inspected for an exhausted message allowance.
func (c *Client) submit(ctx context.Context, query string) error {
	payload, err := c.request(ctx, connectors.AddHumanMessage(c.bot, c.chatID, query))
	if err != nil {
		return fmt.Errorf("submit to %s: %w", c.bot, err)
	}

	var resp struct {
		MessageEdgeCreate *struct {
			MessageLimit *struct {
				CanSend *bool `json:"canSend"`
			} `json:"messageLimit"`
		} `json:"messageEdgeCreate"`
	}
	if err := decodeData(payload, &resp); err != nil {
		return nil
	}
	if e := resp.MessageEdgeCreate; e != nil && e.MessageLimit != nil && e.MessageLimit.CanSend != nil && !*e.MessageLimit.CanSend {
		return fmt.Errorf("%w: message limit reached for %s", ErrProtocol, c.bot)
	}
	return nil
}

func (c *Client) awaitCompletion(ctx context.Context) (string, error) {
	var deadline <-chan time.Time
	if c.opts.PollTimeout > 0 {
		timer := time.NewTimer(c.opts.PollTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var lastFailure error
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			if lastFailure != nil {
				return "", fmt.Errorf("%w: no reply from %s within %s (last failure: %v)", ErrProtocol, c.author, c.opts.PollTimeout, lastFailure)
			}
			return "", fmt.Errorf("%w: no reply from %s within %s", ErrProtocol, c.author, c.opts.PollTimeout)
		case <-ticker.C:
		}

		out := c.Poll(ctx)
		switch out.State {
		case models.PollComplete:
			return out.Text, nil
		case models.PollFailed:
			lastFailure = out.Reason
		}
	}
}

// request sends op, retrying on transport errors and empty payloads.
func (c *Client) request(ctx context.Context, op connectors.Operation) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.RetryCount; attempt++ {
		if attempt > 0 && c.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}

		payload, err := c.transport.Do(ctx, op)
		if err == nil && !connectors.IsEmptyPayload(payload) {
			return payload, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrTransport, op.Name, c.opts.RetryCount, lastErr)
	}
	return nil, fmt.Errorf("%w: %s returned no data after %d attempts", ErrTransport, op.Name, c.opts.RetryCount)
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// decodeData unwraps the GraphQL envelope into v.
func decodeData(payload json.RawMessage, v any) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if connectors.IsEmptyPayload(env.Data) {
		if len(env.Errors) > 0 {
			msgs := make([]string, 0, len(env.Errors))
			for _, e := range env.Errors {
				msgs = append(msgs, e.Message)
			}
			return fmt.Errorf("%w: %s", ErrProtocol, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: response has no data", ErrProtocol)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrProtocol, err)
	}
	return nil
}

// lastMessage extracts the newest message. ok is false for an empty chat.
func lastMessage(payload json.RawMessage) (models.Message, bool, error) {
	var resp struct {
		ChatOfBot *struct {
			MessagesConnection *struct {
				Edges []struct {
					Node *models.Message `json:"node"`
				} `json:"edges"`
			} `json:"messagesConnection"`
		} `json:"chatOfBot"`
	}
	if err := decodeData(payload, &resp); err != nil {
		return models.Message{}, false, err
	}
	if resp.ChatOfBot == nil || resp.ChatOfBot.MessagesConnection == nil {
		return models.Message{}, false, fmt.Errorf("%w: missing messagesConnection", ErrProtocol)
	}
	edges := resp.ChatOfBot.MessagesConnection.Edges
	if len(edges) == 0 {
		return models.Message{}, false, nil
	}
	node := edges[len(edges)-1].Node
	if node == nil {
		return models.Message{}, false, fmt.Errorf("%w: edge without node", ErrProtocol)
	}
	return *node, true, nil
}

// parseChatID accepts the BigInt chat id as a JSON number or string.
func parseChatID(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: response has no chatId", ErrProtocol)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chatId %q", ErrProtocol, s)
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: response has no chatId", ErrProtocol)
	}
	return id, nil
}
