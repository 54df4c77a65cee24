package testutil

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

const (
	// TestSigningKey is a 32 byte key accepted by crypto.NewSignatureEngine
	TestSigningKey = "test-signing-key-0123456789abcdef"

	// ValidSignerID passes the identity checksum
	ValidSignerID = "52998224725"

	// OtherValidSignerID passes the identity checksum
	OtherValidSignerID = "11144477735"
)

var codePattern = regexp.MustCompile(`\b[0-9]{6}\b`)

// SentMessage is one captured Channel.Send call
type SentMessage struct {
	Method    notification.Method
	Recipient string
	Body      string
}

// RecordingChannel is a notification.Channel that records every send
type RecordingChannel struct {
	mu      sync.Mutex
	sent    []SentMessage
	err     error
	failFor map[string]error
}

var _ notification.Channel = (*RecordingChannel)(nil)

// NewRecordingChannel creates an empty RecordingChannel
func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{failFor: make(map[string]error)}
}

// Send records the message, or returns the configured failure
func (c *RecordingChannel) Send(ctx context.Context, method notification.Method, recipient, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failFor[recipient]; ok {
		return err
	}
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, SentMessage{Method: method, Recipient: recipient, Body: body})
	return nil
}

// FailWith makes every subsequent send return err. nil clears it.
func (c *RecordingChannel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// FailFor makes sends to recipient return err
func (c *RecordingChannel) FailFor(recipient string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failFor[recipient] = err
}

// Messages returns a copy of everything sent so far
func (c *RecordingChannel) Messages() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// MessagesTo returns the messages sent to recipient
func (c *RecordingChannel) MessagesTo(recipient string) []SentMessage {
	var out []SentMessage
	for _, m := range c.Messages() {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

// LastCode extracts the six digit code from the latest message to recipient
func (c *RecordingChannel) LastCode(recipient string) string {
	msgs := c.MessagesTo(recipient)
	if len(msgs) == 0 {
		return ""
	}
	return codePattern.FindString(msgs[len(msgs)-1].Body)
}

// Contact builds a directory contact
func Contact(name, email string) types.Contact {
	return types.Contact{Name: name, Email: email}
}

// FakeClock is a settable clock for registries and authorities
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
