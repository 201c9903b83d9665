package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
)

// Dialer opens authenticated-capable IMAP sessions per user provider
// settings.
type Dialer struct {
	log logger.Logger
}

func NewDialer(log logger.Logger) interfaces.IMAPDialer {
	return &Dialer{log: log}
}

// Connect establishes the socket and checks capabilities. Authentication
// is a separate step so credential failures classify distinctly.
func (d *Dialer) Connect(ctx context.Context, user *models.User) (interfaces.IMAPClient, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dialer.Connect")
	defer span.Finish()
	tracing.TagUser(span, user.ID, user.EmailAddress)
	span.SetTag("server", user.ImapServer)
	span.SetTag("port", user.ImapPort)

	serverAddr := fmt.Sprintf("%s:%d", user.ImapServer, user.ImapPort)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if user.ImapSecurity == enum.EmailSecurityTLS {
		tlsConfig := &tls.Config{
			ServerName: user.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}

	if err != nil {
		err = errors.WithKind(errors.KindIO, fmt.Errorf("failed to connect to %s: %w", serverAddr, err))
		tracing.TraceErr(span, err)
		return nil, err
	}

	c.Timeout = commandTimeout
	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		err = errors.WithKind(errors.KindProtocol, fmt.Errorf("failed to get capabilities: %w", err))
		tracing.TraceErr(span, err)
		return nil, err
	}
	c.Timeout = 0

	d.log.Debugf("[%s] Server capabilities: %v", user.EmailAddress, caps)

	return &Client{c: c, log: d.log}, nil
}

// Client adapts an emersion/go-imap session to the capability set the
// sync worker needs.
type Client struct {
	c   *client.Client
	log logger.Logger

	logoutOnce sync.Once
}

// Authenticate logs in with the provider-appropriate mechanism. OAuth
// providers use SASL OAUTHBEARER, everything else plain LOGIN. All
// failures here are credential-class.
func (s *Client) Authenticate(ctx context.Context, user *models.User) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.Authenticate")
	defer span.Finish()
	tracing.TagUser(span, user.ID, user.EmailAddress)
	span.SetTag("provider", user.Provider.String())

	s.c.Timeout = commandTimeout
	defer func() { s.c.Timeout = 0 }()

	var err error
	switch user.Provider {
	case enum.EmailProviderGoogle, enum.EmailProviderOutlook:
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: user.ImapUsername,
			Token:    user.OAuthAccessToken,
			Host:     user.ImapServer,
			Port:     user.ImapPort,
		})
		err = s.c.Authenticate(auth)
	default:
		err = s.c.Login(user.ImapUsername, user.ImapPassword)
	}

	if err != nil {
		err = errors.WithKind(errors.KindAuth, fmt.Errorf("failed to authenticate %s: %w", user.ImapUsername, err))
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

// ListFolders returns the names of all folders under the root namespace.
func (s *Client) ListFolders(ctx context.Context) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.ListFolders")
	defer span.Finish()

	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)

	s.c.Timeout = commandTimeout
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	names := make([]string, 0, 10)
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	s.c.Timeout = 0

	if err := <-done; err != nil {
		err = classify(fmt.Errorf("error listing folders: %w", err))
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.SetTag("folder_count", len(names))
	return names, nil
}

// Examine selects a folder read-only.
func (s *Client) Examine(ctx context.Context, folderName string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.Examine")
	defer span.Finish()
	span.SetTag("folder", folderName)

	s.c.Timeout = commandTimeout
	mbox, err := s.c.Select(folderName, true)
	s.c.Timeout = 0
	if err != nil {
		err = classify(fmt.Errorf("error selecting folder %s: %w", folderName, err))
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Debugf("[%s] Examined - Messages: %d, Recent: %d, Unseen: %d",
		folderName, mbox.Messages, mbox.Recent, mbox.Unseen)
	return nil
}

// UIDValidity reads the folder's UIDVALIDITY via STATUS.
func (s *Client) UIDValidity(ctx context.Context, folderName string) (uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.UIDValidity")
	defer span.Finish()
	span.SetTag("folder", folderName)

	s.c.Timeout = commandTimeout
	status, err := s.c.Status(folderName, []imap.StatusItem{imap.StatusUidValidity})
	s.c.Timeout = 0
	if err != nil {
		err = classify(fmt.Errorf("error getting status for %s: %w", folderName, err))
		tracing.TraceErr(span, err)
		return 0, err
	}

	span.SetTag("uid_validity", status.UidValidity)
	return status.UidValidity, nil
}

// UIDSearchRange issues UID SEARCH UID from:to and returns the UIDs in
// ascending order.
func (s *Client) UIDSearchRange(ctx context.Context, from, to uint32) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.UIDSearchRange")
	defer span.Finish()
	span.SetTag("from", from)
	span.SetTag("to", to)

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(from, to)

	return s.uidSearch(span, criteria)
}

// UIDSearchSince issues UID SEARCH SINCE <date>. IMAP date search is
// day-granular; callers pad the window accordingly.
func (s *Client) UIDSearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.UIDSearchSince")
	defer span.Finish()
	span.SetTag("since", since.Format("02-Jan-2006"))

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	return s.uidSearch(span, criteria)
}

func (s *Client) uidSearch(span opentracing.Span, criteria *imap.SearchCriteria) ([]uint32, error) {
	s.c.Timeout = commandTimeout
	uids, err := s.c.UidSearch(criteria)
	s.c.Timeout = 0
	if err != nil {
		err = classify(fmt.Errorf("error searching for messages: %w", err))
		tracing.TraceErr(span, err)
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	span.SetTag("result_count", len(uids))
	return uids, nil
}

// Idle holds the connection open and feeds unsolicited responses to the
// handler. Returns when the handler reports done, stop closes, or the
// connection drops. Falls back to NOOP polling on servers without IDLE.
func (s *Client) Idle(ctx context.Context, stop <-chan struct{}, handler interfaces.IdleHandler) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.Idle")
	defer span.Finish()

	updates := make(chan client.Update, 64)
	s.c.Updates = updates
	defer func() { s.c.Updates = nil }()

	idleStop := make(chan struct{})
	var stopOnce sync.Once
	endIdle := func() {
		stopOnce.Do(func() { close(idleStop) })
	}

	done := make(chan error, 1)
	s.c.Timeout = 0
	go func() {
		done <- s.c.Idle(idleStop, nil)
	}()

	for {
		select {
		case update := <-updates:
			event, ok := translateUpdate(update)
			if !ok {
				continue
			}
			if handler(event) {
				endIdle()
			}
		case <-stop:
			endIdle()
		case err := <-done:
			if err != nil {
				err = classify(fmt.Errorf("idle terminated: %w", err))
				tracing.TraceErr(span, err)
				return err
			}
			return nil
		}
	}
}

// translateUpdate maps library update types onto untagged response names.
func translateUpdate(update client.Update) (interfaces.IdleEvent, bool) {
	switch u := update.(type) {
	case *client.MailboxUpdate:
		return interfaces.IdleEvent{Name: "EXISTS", Count: u.Mailbox.Messages}, true
	case *client.ExpungeUpdate:
		return interfaces.IdleEvent{Name: "EXPUNGE", Count: u.SeqNum}, true
	case *client.StatusUpdate:
		if u.Status != nil && u.Status.Type == imap.StatusRespBye {
			return interfaces.IdleEvent{Name: "BYE"}, true
		}
		return interfaces.IdleEvent{}, false
	case *client.MessageUpdate:
		return interfaces.IdleEvent{Name: "FETCH"}, true
	default:
		return interfaces.IdleEvent{}, false
	}
}

// FetchMessageByUID fetches the full message body for one UID.
func (s *Client) FetchMessageByUID(ctx context.Context, uid uint32) (*models.RawMessage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.FetchMessageByUID")
	defer span.Finish()
	span.SetTag("uid", uid)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	s.c.Timeout = fetchTimeout
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var raw *models.RawMessage
	for msg := range messages {
		body := msg.GetBody(section)
		var content []byte
		if body != nil {
			content, _ = io.ReadAll(body)
		}

		raw = &models.RawMessage{
			UID:          msg.Uid,
			InternalDate: msg.InternalDate,
			Raw:          content,
		}
		if msg.Envelope != nil {
			raw.Subject = msg.Envelope.Subject
			raw.MessageID = msg.Envelope.MessageId
		}
	}
	s.c.Timeout = 0

	if err := <-done; err != nil {
		err = classify(fmt.Errorf("error fetching message %d: %w", uid, err))
		tracing.TraceErr(span, err)
		return nil, err
	}
	if raw == nil {
		err := errors.WithKind(errors.KindProtocol, fmt.Errorf("message with UID %d not found", uid))
		tracing.TraceErr(span, err)
		return nil, err
	}

	return raw, nil
}

// Logout says goodbye politely. Errors on a dead connection are expected
// and swallowed.
func (s *Client) Logout() {
	s.logoutOnce.Do(func() {
		s.c.Timeout = 5 * time.Second
		_ = s.c.Logout()
	})
}

// Disconnect tears the socket down. Safe to call repeatedly and on
// never-connected sessions.
func (s *Client) Disconnect() {
	_ = s.c.Terminate()
}

// classify tags raw library/socket errors with the kind the state
// machine branches on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithKind(errors.KindOf(err), err)
}
