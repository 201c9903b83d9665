package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
	"github.com/customeros/mailsync/services/events"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type fakePublisher struct {
	mu         sync.Mutex
	published  []dto.EmailReceived
	routingKey string
	err        error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routingKey = routingKey
	f.published = append(f.published, payload.(dto.EmailReceived))
	return nil
}

type fakeFetcher struct {
	interfaces.IMAPClient
	raw *models.RawMessage
	err error
}

func (f *fakeFetcher) FetchMessageByUID(ctx context.Context, uid uint32) (*models.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

func testUser() *models.User {
	return &models.User{
		ID:              "user-proc-1",
		EmailAddress:    "proc@example.com",
		Provider:        enum.EmailProviderGeneric,
		LastUIDValidity: utils.Ptr("42"),
	}
}

const sampleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: proc@example.com\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Message-Id: <msg-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers attached.\r\n"

func TestProcessUID_PublishesParsedEvent(t *testing.T) {
	// Arrange
	publisher := &fakePublisher{}
	p := NewEmailProcessor(publisher, getLogger())
	client := &fakeFetcher{raw: &models.RawMessage{
		UID:          77,
		InternalDate: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Raw:          []byte(sampleMessage),
	}}

	// Act
	err := p.ProcessUID(context.Background(), testUser(), client, "INBOX", 77)

	// Assert
	require.NoError(t, err)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, events.RoutingKeyReceiveEmail, publisher.routingKey)

	event := publisher.published[0]
	assert.Equal(t, "user-proc-1", event.UserID)
	assert.Equal(t, "INBOX", event.Folder)
	assert.Equal(t, uint32(77), event.UID)
	assert.Equal(t, "42", event.UIDValidity)
	assert.Equal(t, "Alice <alice@example.com>", event.From)
	assert.Equal(t, []string{"proc@example.com"}, event.To)
	assert.Equal(t, "Quarterly numbers", event.Subject)
	assert.Equal(t, "<msg-1@example.com>", event.MessageID)
	assert.Contains(t, event.PlainBody, "Numbers attached.")
}

func TestProcessUID_UnparseableMessageStillPublished(t *testing.T) {
	// Arrange
	publisher := &fakePublisher{}
	p := NewEmailProcessor(publisher, getLogger())
	client := &fakeFetcher{raw: &models.RawMessage{
		UID:     78,
		Subject: "from envelope",
		Raw:     []byte("\x00\x01 not a mime message"),
	}}

	// Act
	err := p.ProcessUID(context.Background(), testUser(), client, "INBOX", 78)

	// Assert
	require.NoError(t, err)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "from envelope", publisher.published[0].Subject)
}

func TestProcessUID_FetchFailurePropagates(t *testing.T) {
	// Arrange
	publisher := &fakePublisher{}
	p := NewEmailProcessor(publisher, getLogger())
	client := &fakeFetcher{err: errors.ErrClientNotConnected}

	// Act
	err := p.ProcessUID(context.Background(), testUser(), client, "INBOX", 79)

	// Assert
	assert.Equal(t, errors.ErrClientNotConnected, err)
	assert.Empty(t, publisher.published)
}

func TestProcessUID_PublishFailurePropagates(t *testing.T) {
	// Arrange
	publisher := &fakePublisher{err: errors.ErrConnectionTimeout}
	p := NewEmailProcessor(publisher, getLogger())
	client := &fakeFetcher{raw: &models.RawMessage{UID: 80, Raw: []byte(sampleMessage)}}

	// Act
	err := p.ProcessUID(context.Background(), testUser(), client, "INBOX", 80)

	// Assert
	assert.Equal(t, errors.ErrConnectionTimeout, err)
}
