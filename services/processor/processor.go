package processor

import (
	"bytes"
	"context"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
	"github.com/customeros/mailsync/services/events"
)

// processTimeout bounds fetch+parse+publish for one message.
const processTimeout = 2 * time.Minute

// EmailProcessor turns one discovered UID into a published event: fetch
// the body, parse the MIME envelope, emit to the broker. Re-delivery is
// harmless; consumers deduplicate on UID.
type EmailProcessor struct {
	publisher interfaces.EventPublisher
	log       logger.Logger
}

func NewEmailProcessor(publisher interfaces.EventPublisher, log logger.Logger) interfaces.MessageProcessor {
	return &EmailProcessor{
		publisher: publisher,
		log:       log,
	}
}

func (p *EmailProcessor) ProcessUID(ctx context.Context, user *models.User, client interfaces.IMAPClient, folderName string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailProcessor.ProcessUID")
	defer span.Finish()
	tracing.TagUser(span, user.ID, user.EmailAddress)
	span.SetTag("folder", folderName)
	span.SetTag("uid", uid)

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	raw, err := client.FetchMessageByUID(ctx, uid)
	if err != nil {
		tracing.TraceErr(span, err)
		return p.timeoutOr(ctx, err)
	}

	event := dto.EmailReceived{
		UserID:       user.ID,
		EmailAddress: user.EmailAddress,
		Folder:       folderName,
		UID:          uid,
		UIDValidity:  utils.GetOrDefault(user.LastUIDValidity, ""),
		MessageID:    raw.MessageID,
		Subject:      raw.Subject,
		InternalDate: raw.InternalDate,
		ReceivedAt:   utils.Now(),
	}

	if len(raw.Raw) > 0 {
		envelope, parseErr := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
		if parseErr != nil {
			// Unparseable MIME still gets announced; downstream keeps
			// the raw reference via folder+uid.
			p.log.Warnf("Failed to parse message %d for %s: %v", uid, user.EmailAddress, parseErr)
		} else {
			event.From = envelope.GetHeader("From")
			event.To = envelope.GetHeaderValues("To")
			if event.Subject == "" {
				event.Subject = envelope.GetHeader("Subject")
			}
			if event.MessageID == "" {
				event.MessageID = envelope.GetHeader("Message-Id")
			}
			event.PlainBody = envelope.Text
			event.HTMLBody = envelope.HTML
		}
	}

	if err := p.publisher.Publish(ctx, events.RoutingKeyReceiveEmail, event); err != nil {
		tracing.TraceErr(span, err)
		return p.timeoutOr(ctx, err)
	}

	return nil
}

// timeoutOr maps a deadline expiry onto the timeout class the worker's
// disposition table expects.
func (p *EmailProcessor) timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.WithKind(errors.KindTimeout, errors.ErrProcessingTimeout)
	}
	return err
}
