package imapmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	emaildomain "mailpilot-backend/internal/email/domain"
)

// Service is the generic IMAP transport. It implements domain.MailTransport
// for accounts on plain IMAP servers. Message ids are IMAP UIDs rendered as
// decimal strings.
type Service struct{}

// NewService creates a new IMAP transport.
func NewService() *Service {
	return &Service{}
}

const dialTimeout = 30 * time.Second

// connect dials and logs in under the caller's context. The context
// deadline is pushed down onto the connection so every subsequent command
// wait is bounded too; a hung server fails the call instead of wedging the
// read path or an analysis worker.
func (s *Service) connect(ctx context.Context, creds emaildomain.Credentials) (*imapclient.Client, error) {
	addr := creds.Host + ":" + creds.Port

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to IMAP %s: %v", emaildomain.ErrTransient, addr, err)
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: creds.Host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: TLS handshake with %s: %v", emaildomain.ErrTransient, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}

	client := imapclient.New(tlsConn, nil)
	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: login failed for %s: %v", emaildomain.ErrAuthExpired, creds.Username, err)
	}
	return client, nil
}

// ListFolders returns the account's mailboxes.
func (s *Service) ListFolders(ctx context.Context, creds emaildomain.Credentials) ([]emaildomain.Folder, error) {
	client, err := s.connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: listing mailboxes: %v", emaildomain.ErrTransient, err)
	}

	folders := make([]emaildomain.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		folders = append(folders, emaildomain.Folder{
			ID:   mbox.Mailbox,
			Name: mbox.Mailbox,
		})
	}
	return folders, nil
}

// FetchRecent searches folder for messages newer than the cursor (unix
// seconds) and fetches their full bodies, so the sync path can pre-warm the
// content cache. The new cursor is the newest message date observed.
func (s *Service) FetchRecent(ctx context.Context, creds emaildomain.Credentials, folder, cursor string, limit int) ([]emaildomain.IncomingMessage, string, error) {
	client, err := s.connect(ctx, creds)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, "", fmt.Errorf("%w: selecting %s: %v", emaildomain.ErrTransient, folder, err)
	}

	since := time.Now().AddDate(0, 0, -7)
	var sinceUnix int64
	if cursor != "" {
		if parsed, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			sinceUnix = parsed
			since = time.Unix(parsed, 0)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, "", fmt.Errorf("%w: searching messages: %v", emaildomain.ErrTransient, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, cursor, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		RFC822Size:  true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var messages []emaildomain.IncomingMessage
	maxUnix := sinceUnix
	for {
		if ctx.Err() != nil {
			break
		}
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		incoming := convertBuffer(buf, folder, bodySection)
		messages = append(messages, incoming)

		if unix := incoming.Record.ReceivedAt.Unix(); unix > maxUnix {
			maxUnix = unix
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return messages, cursor, fmt.Errorf("%w: fetching messages: %v", emaildomain.ErrTransient, err)
	}

	newCursor := cursor
	if maxUnix > 0 {
		newCursor = strconv.FormatInt(maxUnix, 10)
	}
	return messages, newCursor, nil
}

// FetchByID retrieves one message's full body by UID.
func (s *Service) FetchByID(ctx context.Context, creds emaildomain.Credentials, folder, messageID string) (*emaildomain.FullContent, error) {
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed IMAP uid %q", emaildomain.ErrValidation, messageID)
	}

	client, err := s.connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("%w: selecting %s: %v", emaildomain.ErrTransient, folder, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("%w: message uid %d", emaildomain.ErrNotFound, uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: collecting message data: %v", emaildomain.ErrTransient, err)
	}

	incoming := convertBuffer(buf, folder, bodySection)
	if err := fetchCmd.Close(); err != nil {
		return incoming.Content, fmt.Errorf("%w: closing fetch: %v", emaildomain.ErrTransient, err)
	}
	return incoming.Content, nil
}

// ModifyFlags maps the flag patch onto IMAP store operations.
func (s *Service) ModifyFlags(ctx context.Context, creds emaildomain.Credentials, folder, messageID string, patch emaildomain.FlagPatch) error {
	if patch.Empty() {
		return nil
	}
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: malformed IMAP uid %q", emaildomain.ErrValidation, messageID)
	}

	client, err := s.connect(ctx, creds)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("%w: selecting %s: %v", emaildomain.ErrTransient, folder, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	apply := func(flag imap.Flag, add bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		op := imap.StoreFlagsAdd
		if !add {
			op = imap.StoreFlagsDel
		}
		storeCmd := client.Store(uidSet, &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  []imap.Flag{flag},
		}, nil)
		return storeCmd.Close()
	}

	if patch.Read != nil {
		if err := apply(imap.FlagSeen, *patch.Read); err != nil {
			return fmt.Errorf("%w: storing \\Seen: %v", emaildomain.ErrTransient, err)
		}
	}
	if patch.Flagged != nil {
		if err := apply(imap.FlagFlagged, *patch.Flagged); err != nil {
			return fmt.Errorf("%w: storing \\Flagged: %v", emaildomain.ErrTransient, err)
		}
	}
	if patch.Answered != nil {
		if err := apply(imap.FlagAnswered, *patch.Answered); err != nil {
			return fmt.Errorf("%w: storing \\Answered: %v", emaildomain.ErrTransient, err)
		}
	}
	return nil
}

// convertBuffer builds an IncomingMessage from a fetched IMAP buffer.
func convertBuffer(buf *imapclient.FetchMessageBuffer, folder string, bodySection *imap.FetchItemBodySection) emaildomain.IncomingMessage {
	record := emaildomain.EmailRecord{
		MessageID:    strconv.FormatUint(uint64(buf.UID), 10),
		Folder:       folder,
		SizeEstimate: buf.RFC822Size,
	}

	if buf.Envelope != nil {
		record.Subject = buf.Envelope.Subject
		record.ReceivedAt = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			record.SenderName = from.Name
			record.SenderAddress = from.Addr()
			if record.SenderName == "" {
				record.SenderName = record.SenderAddress
			}
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			record.IsRead = true
		case imap.FlagFlagged:
			record.IsFlagged = true
		case imap.FlagAnswered:
			record.IsAnswered = true
		}
	}

	content := &emaildomain.FullContent{
		MessageID: record.MessageID,
		Subject:   record.Subject,
	}

	if rawBody := buf.FindBodySection(bodySection); rawBody != nil {
		textBody, htmlBody, attachments, listHeaders := parseMIMEBody(rawBody)
		content.TextBody = textBody
		content.HTMLBody = htmlBody
		content.Attachments = attachments
		record.HasAttachments = len(attachments) > 0
		record.IsBulk = listHeaders || isBulkSender(record.SenderAddress)

		preview := textBody
		if preview == "" {
			preview = stripTags(htmlBody)
		}
		preview = strings.Join(strings.Fields(preview), " ")
		if runes := []rune(preview); len(runes) > emaildomain.PreviewMaxLen {
			preview = string(runes[:emaildomain.PreviewMaxLen])
		}
		record.Preview = preview
	}

	return emaildomain.IncomingMessage{Record: record, Content: content}
}

func isBulkSender(addr string) bool {
	lower := strings.ToLower(addr)
	for _, prefix := range []string{"noreply@", "no-reply@", "donotreply@", "notifications@", "newsletter@"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseMIMEBody parses a raw RFC 2822 message using go-message and extracts
// the text/plain body, text/html body, attachment metadata and whether the
// message carries mailing-list headers.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachments emaildomain.AttachmentList, isList bool) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, treat the whole thing as plain text
		return string(raw), "", nil, false
	}
	defer mr.Close()

	if mr.Header.Get("List-Unsubscribe") != "" || mr.Header.Get("List-Id") != "" {
		isList = true
	}
	precedence := strings.ToLower(mr.Header.Get("Precedence"))
	if precedence == "bulk" || precedence == "list" {
		isList = true
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			// Read to get size without storing content
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, emaildomain.Attachment{
				Name:     filename,
				MimeType: contentType,
				Size:     int64(len(body)),
			})
		}
	}

	return textBody, htmlBody, attachments, isList
}
