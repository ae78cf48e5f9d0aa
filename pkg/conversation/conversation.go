// Package conversation holds the client side of a relayed chat: an
// append-only message list driven by a per-turn state machine, and a
// Client that runs one turn against the relay over HTTP.
package conversation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/stream"
)

// noOpen marks the absence of an open assistant message.
const noOpen = -1

// Conversation is the ordered message history of one chat session and the
// state of its current turn. At most one assistant message is open at a
// time, and only the open message is ever mutated.
//
// A Conversation is safe for concurrent use; observers registered with
// OnUpdate are called outside the lock, in mutation order.
type Conversation struct {
	mu        sync.Mutex
	model     string
	messages  []llm.Message
	state     State
	open      int
	lastErr   error
	observers []func(Update)
}

// Option configures a Conversation created with New.
type Option func(*Conversation)

// WithModel asks the relay for a specific model. The relay only honours it
// when model overrides are enabled.
func WithModel(model string) Option {
	return func(c *Conversation) {
		c.model = model
	}
}

// WithSystemPrompt seeds the history with a system message that is sent on
// every turn.
func WithSystemPrompt(prompt string) Option {
	return func(c *Conversation) {
		if strings.TrimSpace(prompt) != "" {
			c.messages = append(c.messages, llm.NewTextMessage(llm.RoleSystem, prompt))
		}
	}
}

// New creates an idle Conversation.
func New(opts ...Option) *Conversation {
	c := &Conversation{
		state: StateIdle,
		open:  noOpen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUpdate registers fn to receive every subsequent mutation.
func (c *Conversation) OnUpdate(fn func(Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Send starts a turn: it appends the user message and returns the request
// carrying the full history. Blank input and sends while a turn is in
// flight are rejected without changing anything.
func (c *Conversation) Send(text string) (*llm.ChatRequest, error) {
	c.mu.Lock()

	if c.state.inFlight() {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return nil, ErrEmptyInput
	}

	c.messages = append(c.messages, llm.NewTextMessage(llm.RoleUser, text))
	c.state = StateAwaitingResponse
	c.lastErr = nil

	req := &llm.ChatRequest{
		Model:    c.model,
		Messages: c.snapshot(),
	}

	c.unlockAndNotify(Update{Kind: UpdateAppendMessage, Index: len(c.messages) - 1, State: c.state})
	return req, nil
}

// Begin handles the first response byte: it appends the empty assistant
// placeholder and opens it. Calling Begin again while streaming is a no-op.
func (c *Conversation) Begin() error {
	c.mu.Lock()

	switch c.state {
	case StateStreaming:
		c.mu.Unlock()
		return nil
	case StateAwaitingResponse:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("begin in state %s: %w", state, ErrNoOpenTurn)
	}

	update := c.openPlaceholder()
	c.unlockAndNotify(update)
	return nil
}

// Apply folds one decoded event into the open message. Tokens append to the
// open message only; Done and Error close it. Events arriving with no open
// turn (for instance after a lifecycle event) are rejected.
func (c *Conversation) Apply(ev stream.Event) error {
	c.mu.Lock()

	var updates []Update
	switch c.state {
	case StateAwaitingResponse:
		updates = append(updates, c.openPlaceholder())
	case StateStreaming:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("apply %s in state %s: %w", ev.Kind, state, ErrNoOpenTurn)
	}

	switch ev.Kind {
	case stream.KindToken:
		c.messages[c.open].Content += ev.Text
		updates = append(updates, Update{Kind: UpdateAppendText, Index: c.open, Delta: ev.Text, State: c.state})
	case stream.KindDone:
		updates = append(updates, c.close(nil))
	case stream.KindError:
		updates = append(updates, c.close(ErrStreamFailed))
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}

	c.unlockAndNotify(updates...)
	return nil
}

// Fail closes the in-flight turn after a failure before or during the
// request. The assistant message is set to ErrorText, created if no
// response byte had arrived. Fail is a no-op when no turn is in flight.
func (c *Conversation) Fail(err error) {
	c.mu.Lock()

	if !c.state.inFlight() {
		c.mu.Unlock()
		return
	}

	var updates []Update
	if c.open == noOpen {
		updates = append(updates, c.openPlaceholder())
	}
	c.messages[c.open].Content = ErrorText
	updates = append(updates,
		Update{Kind: UpdateReplaceText, Index: c.open, Delta: ErrorText, State: c.state},
		c.close(err),
	)

	c.unlockAndNotify(updates...)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// State returns the state of the current turn.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether input should be disabled.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.inFlight()
}

// Open returns the open assistant message, if any.
func (c *Conversation) Open() (llm.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == noOpen {
		return llm.Message{}, false
	}
	return c.messages[c.open], true
}

// LastErr returns the failure of the most recent turn, nil if it completed.
func (c *Conversation) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// openPlaceholder appends the empty assistant message. Requires c.mu.
func (c *Conversation) openPlaceholder() Update {
	c.messages = append(c.messages, llm.NewTextMessage(llm.RoleAssistant, ""))
	c.open = len(c.messages) - 1
	c.state = StateStreaming
	return Update{Kind: UpdateAppendMessage, Index: c.open, State: c.state}
}

// close ends the turn. Requires c.mu.
func (c *Conversation) close(err error) Update {
	index := c.open
	c.open = noOpen
	c.state = StateClosed
	c.lastErr = err
	return Update{Kind: UpdateClose, Index: index, State: c.state}
}

func (c *Conversation) snapshot() []llm.Message {
	return append([]llm.Message(nil), c.messages...)
}

// unlockAndNotify releases c.mu and then delivers updates to observers.
func (c *Conversation) unlockAndNotify(updates ...Update) {
	observers := append([]func(Update)(nil), c.observers...)
	c.mu.Unlock()

	for _, u := range updates {
		for _, fn := range observers {
			fn(u)
		}
	}
}
