package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Gateway. It backs the "memory" remote driver and
// the engine tests, and exposes helpers to simulate out-of-band tampering.
type Memory struct {
	mu       sync.Mutex
	threads  map[string]*memThread
	failures map[string]error
}

type memThread struct {
	guildID  string
	starter  string
	messages map[string]*Message
	order    []string
}

// NewMemory returns an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		threads:  make(map[string]*memThread),
		failures: make(map[string]error),
	}
}

// CreateThread creates a thread whose starter message carries content and
// returns the thread and starter message ids.
func (m *Memory) CreateThread(guildID, content string) (threadID, starterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threadID = uuid.NewString()
	t := &memThread{guildID: guildID, messages: make(map[string]*Message)}
	m.threads[threadID] = t
	starterID = t.add(threadID, content).ID
	t.starter = starterID
	return threadID, starterID
}

// DeleteThread removes a thread and all its messages.
func (m *Memory) DeleteThread(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
}

// RemoveMessage deletes a message as if a moderator removed it.
func (m *Memory) RemoveMessage(threadID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[threadID]; ok {
		t.remove(messageID)
	}
}

// Message returns a copy of a stored message.
func (m *Memory) Message(threadID, messageID string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return Message{}, false
	}
	msg, ok := t.messages[messageID]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// MessageCount returns the number of live messages in a thread.
func (m *Memory) MessageCount(threadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[threadID]; ok {
		return len(t.messages)
	}
	return 0
}

// FailNext makes the next call of the named operation ("send", "edit",
// "pin", "delete", "fetch_thread", "fetch_message") return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *Memory) takeFailure(op string) error {
	err, ok := m.failures[op]
	if ok {
		delete(m.failures, op)
	}
	return err
}

func (t *memThread) add(threadID, content string) *Message {
	msg := &Message{ID: uuid.NewString(), ChannelID: threadID, Content: content}
	t.messages[msg.ID] = msg
	t.order = append(t.order, msg.ID)
	return msg
}

func (t *memThread) remove(messageID string) {
	delete(t.messages, messageID)
	if t.starter == messageID {
		t.starter = ""
	}
}

func (m *Memory) thread(id string) (*memThread, error) {
	t, ok := m.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", id, ErrUnresolved)
	}
	return t, nil
}

// FetchThread implements Gateway.
func (m *Memory) FetchThread(_ context.Context, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("fetch_thread"); err != nil {
		return nil, err
	}
	t, err := m.thread(threadID)
	if err != nil {
		return nil, err
	}
	return &Thread{ID: threadID, GuildID: t.guildID}, nil
}

// SendMessage implements Gateway.
func (m *Memory) SendMessage(_ context.Context, thread *Thread, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("send"); err != nil {
		return nil, err
	}
	t, err := m.thread(thread.ID)
	if err != nil {
		return nil, err
	}
	msg := *t.add(thread.ID, content)
	return &msg, nil
}

// EditMessage implements Gateway.
func (m *Memory) EditMessage(_ context.Context, thread *Thread, messageID, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("edit"); err != nil {
		return nil, err
	}
	t, err := m.thread(thread.ID)
	if err != nil {
		return nil, err
	}
	msg, ok := t.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrUnresolved)
	}
	msg.Content = content
	out := *msg
	return &out, nil
}

// FetchMessage implements Gateway.
func (m *Memory) FetchMessage(_ context.Context, thread *Thread, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("fetch_message"); err != nil {
		return nil, err
	}
	t, err := m.thread(thread.ID)
	if err != nil {
		return nil, err
	}
	msg, ok := t.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrUnresolved)
	}
	out := *msg
	return &out, nil
}

// FetchStarterMessage implements Gateway.
func (m *Memory) FetchStarterMessage(_ context.Context, thread *Thread) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.thread(thread.ID)
	if err != nil {
		return nil, err
	}
	msg, ok := t.messages[t.starter]
	if !ok {
		return nil, fmt.Errorf("starter message: %w", ErrUnresolved)
	}
	out := *msg
	return &out, nil
}

// PinMessage implements Gateway.
func (m *Memory) PinMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("pin"); err != nil {
		return err
	}
	t, err := m.thread(msg.ChannelID)
	if err != nil {
		return err
	}
	stored, ok := t.messages[msg.ID]
	if !ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrUnresolved)
	}
	stored.Pinned = true
	msg.Pinned = true
	return nil
}

// DeleteMessage implements Gateway.
func (m *Memory) DeleteMessage(_ context.Context, thread *Thread, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("delete"); err != nil {
		return err
	}
	t, err := m.thread(thread.ID)
	if err != nil {
		return err
	}
	if _, ok := t.messages[messageID]; !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrUnresolved)
	}
	t.remove(messageID)
	return nil
}

var _ Gateway = (*Memory)(nil)
