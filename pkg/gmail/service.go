package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Service is the Gmail REST transport. It implements domain.MailTransport.
type Service struct {
	clientID     string
	clientSecret string
}

// notifyTokenSource wraps an oauth2 token source and reports refreshed
// tokens back to the account store so they survive restarts.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback emaildomain.TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t.AccessToken, t.RefreshToken); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// NewService creates a Gmail transport with the app's OAuth client.
func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

func (s *Service) client(ctx context.Context, creds emaildomain.Credentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: creds.OnTokenRefresh,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, wrappedSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// ListFolders retrieves all labels from Gmail.
func (s *Service) ListFolders(ctx context.Context, creds emaildomain.Credentials) ([]emaildomain.Folder, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	labelsResp, err := srv.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	folders := make([]emaildomain.Folder, 0, len(labelsResp.Labels))
	for _, label := range labelsResp.Labels {
		if label.Type != "system" && label.Type != "user" {
			continue
		}
		folders = append(folders, emaildomain.Folder{
			ID:     label.Id,
			Name:   label.Name,
			Unread: int(label.MessagesUnread),
		})
	}
	return folders, nil
}

// FetchRecent lists messages in folder newer than the cursor (unix seconds)
// and fetches their full form in parallel. The returned cursor is the
// newest internal date observed.
func (s *Service) FetchRecent(ctx context.Context, creds emaildomain.Credentials, folder, cursor string, limit int) ([]emaildomain.IncomingMessage, string, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, "", err
	}

	q := ""
	if folder != "" && folder != "ALL" {
		q = "label:" + folder
	}
	var sinceUnix int64
	if cursor != "" {
		if parsed, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			sinceUnix = parsed
			q = strings.TrimSpace(q + " after:" + cursor)
		}
	}

	requestLimit := int64(limit)
	if requestLimit <= 0 {
		requestLimit = 50
	}
	if requestLimit > 500 {
		requestLimit = 500 // Gmail API maximum
	}

	listQuery := srv.Users.Messages.List("me").MaxResults(requestLimit).Context(ctx)
	if q != "" {
		listQuery = listQuery.Q(q)
	}
	messagesResp, err := listQuery.Do()
	if err != nil {
		return nil, "", mapError(err)
	}

	type fetchResult struct {
		msg *emaildomain.IncomingMessage
		err error
	}
	resultChan := make(chan fetchResult, len(messagesResp.Messages))

	// Fetch full messages in parallel with a bounded semaphore so a large
	// window cannot trip Gmail's rate limits.
	semaphore := make(chan struct{}, 10)
	for _, msg := range messagesResp.Messages {
		go func(msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			fullMsg, err := srv.Users.Messages.Get("me", msgID).Format("full").Context(ctx).Do()
			if err != nil {
				resultChan <- fetchResult{nil, mapError(err)}
				return
			}
			incoming := convertMessage(fullMsg, folder)
			resultChan <- fetchResult{&incoming, nil}
		}(msg.Id)
	}

	var messages []emaildomain.IncomingMessage
	var firstAuthErr error
	for i := 0; i < len(messagesResp.Messages); i++ {
		result := <-resultChan
		if result.err != nil {
			// A vanished message is skipped; revoked credentials fail the
			// whole cycle.
			if firstAuthErr == nil && errors.Is(result.err, emaildomain.ErrAuthExpired) {
				firstAuthErr = result.err
			}
			continue
		}
		messages = append(messages, *result.msg)
	}
	if firstAuthErr != nil {
		return nil, "", firstAuthErr
	}

	// Parallel fetching returns messages in random order
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Record.ReceivedAt.After(messages[j].Record.ReceivedAt)
	})

	newCursor := cursor
	maxUnix := sinceUnix
	for _, m := range messages {
		if unix := m.Record.ReceivedAt.Unix(); unix > maxUnix {
			maxUnix = unix
		}
	}
	if maxUnix > 0 {
		newCursor = strconv.FormatInt(maxUnix, 10)
	}

	return messages, newCursor, nil
}

// FetchByID retrieves a specific message's full content.
func (s *Service) FetchByID(ctx context.Context, creds emaildomain.Credentials, folder, messageID string) (*emaildomain.FullContent, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	incoming := convertMessage(msg, folder)
	return incoming.Content, nil
}

// ModifyFlags maps flag changes onto Gmail label modifications.
func (s *Service) ModifyFlags(ctx context.Context, creds emaildomain.Credentials, folder, messageID string, patch emaildomain.FlagPatch) error {
	if patch.Empty() {
		return nil
	}
	srv, err := s.client(ctx, creds)
	if err != nil {
		return err
	}

	modifyReq := &gmail.ModifyMessageRequest{}
	if patch.Read != nil {
		if *patch.Read {
			modifyReq.RemoveLabelIds = append(modifyReq.RemoveLabelIds, "UNREAD")
		} else {
			modifyReq.AddLabelIds = append(modifyReq.AddLabelIds, "UNREAD")
		}
	}
	if patch.Flagged != nil {
		if *patch.Flagged {
			modifyReq.AddLabelIds = append(modifyReq.AddLabelIds, "STARRED")
		} else {
			modifyReq.RemoveLabelIds = append(modifyReq.RemoveLabelIds, "STARRED")
		}
	}
	// Gmail has no answered label; the index keeps that flag locally.

	if len(modifyReq.AddLabelIds) == 0 && len(modifyReq.RemoveLabelIds) == 0 {
		return nil
	}

	_, err = srv.Users.Messages.Modify("me", messageID, modifyReq).Context(ctx).Do()
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Watch sets up push notifications for the user's mailbox on a Pub/Sub topic.
func (s *Service) Watch(ctx context.Context, creds emaildomain.Credentials, topicName string) error {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return err
	}

	// Stop any existing watch first to avoid "only one push notification
	// client allowed" errors.
	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return mapError(err)
	}
	log.Printf("[Gmail] Watch started for %s. Expiration: %d, HistoryId: %d", creds.Address, resp.Expiration, resp.HistoryId)
	return nil
}

// mapError translates Gmail API failures onto the domain taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %v", emaildomain.ErrAuthExpired, err)
		case 403:
			if strings.Contains(apiErr.Message, "insufficient") || strings.Contains(apiErr.Message, "forbidden") {
				return fmt.Errorf("%w: %v", emaildomain.ErrAuthExpired, err)
			}
			return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
		case 404:
			return fmt.Errorf("%w: %v", emaildomain.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
	}
	if strings.Contains(err.Error(), "invalid_grant") {
		return fmt.Errorf("%w: %v", emaildomain.ErrAuthExpired, err)
	}
	if _, ok := err.(net.Error); ok {
		return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
}

// Helper functions

func convertMessage(msg *gmail.Message, folder string) emaildomain.IncomingMessage {
	from := getHeader(msg.Payload.Headers, "From")
	fromName := from
	fromAddr := from
	// Extract name and address from "Name <email@example.com>" format
	if idx := strings.Index(from, "<"); idx >= 0 {
		fromName = strings.TrimSpace(from[:idx])
		fromAddr = strings.Trim(from[idx:], "<> ")
	}

	body, isHTML := getMessageBody(msg.Payload)
	preview := body
	if isHTML {
		preview = stripHTML(preview)
	}
	preview = strings.Join(strings.Fields(preview), " ")
	if runes := []rune(preview); len(runes) > emaildomain.PreviewMaxLen {
		preview = string(runes[:emaildomain.PreviewMaxLen])
	}

	attachments := getAttachments(msg.Payload)

	content := &emaildomain.FullContent{
		MessageID:   msg.Id,
		Subject:     getHeader(msg.Payload.Headers, "Subject"),
		Attachments: attachments,
	}
	if isHTML {
		content.HTMLBody = body
	} else {
		content.TextBody = body
	}

	record := emaildomain.EmailRecord{
		MessageID:      msg.Id,
		Folder:         folder,
		SenderAddress:  fromAddr,
		SenderName:     fromName,
		Subject:        content.Subject,
		Preview:        preview,
		ReceivedAt:     time.Unix(msg.InternalDate/1000, 0),
		IsRead:         !hasLabel(msg.LabelIds, "UNREAD"),
		IsFlagged:      hasLabel(msg.LabelIds, "STARRED"),
		HasAttachments: len(attachments) > 0,
		SizeEstimate:   msg.SizeEstimate,
		IsBulk:         isBulkMessage(msg.Payload.Headers, fromAddr),
	}

	return emaildomain.IncomingMessage{Record: record, Content: content}
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	return s
}

// isBulkMessage flags newsletters and automated senders so the background
// analyzer can skip them.
func isBulkMessage(headers []*gmail.MessagePartHeader, fromAddr string) bool {
	if getHeader(headers, "List-Unsubscribe") != "" || getHeader(headers, "List-Id") != "" {
		return true
	}
	precedence := strings.ToLower(getHeader(headers, "Precedence"))
	if precedence == "bulk" || precedence == "list" {
		return true
	}
	lower := strings.ToLower(fromAddr)
	for _, prefix := range []string{"noreply@", "no-reply@", "donotreply@", "notifications@", "newsletter@"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getMessageBody(payload *gmail.MessagePart) (string, bool) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						htmlBody = string(data)
					case "text/plain":
						plainBody = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}

func getAttachments(payload *gmail.MessagePart) emaildomain.AttachmentList {
	var attachments emaildomain.AttachmentList

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				attachments = append(attachments, emaildomain.Attachment{
					ID:       part.Body.AttachmentId,
					Name:     part.Filename,
					MimeType: part.MimeType,
					Size:     part.Body.Size,
				})
			}
			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}
	findAttachments(payload.Parts)
	return attachments
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
