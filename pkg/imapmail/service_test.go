package imapmail

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Lunch?\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Are you free at noon?\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Are you free at <i>noon</i>?</p>\r\n" +
	"--BOUNDARY--\r\n"

const listMessage = "From: Deals <noreply@shop.example.com>\r\n" +
	"Subject: Weekly deals\r\n" +
	"List-Unsubscribe: <mailto:unsub@shop.example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Big savings this week.\r\n"

func TestParseMIMEBodyMultipart(t *testing.T) {
	text, html, attachments, isList := parseMIMEBody([]byte(sampleMessage))
	assert.Contains(t, text, "Are you free at noon?")
	assert.Contains(t, html, "<i>noon</i>")
	assert.Empty(t, attachments)
	assert.False(t, isList)
}

func TestParseMIMEBodyListHeaders(t *testing.T) {
	text, _, _, isList := parseMIMEBody([]byte(listMessage))
	assert.Contains(t, text, "Big savings")
	assert.True(t, isList)
}

func TestParseMIMEBodyMalformedFallsBackToRaw(t *testing.T) {
	raw := "not a mime message at all"
	text, html, attachments, isList := parseMIMEBody([]byte(raw))
	assert.Equal(t, raw, text)
	assert.Empty(t, html)
	assert.Empty(t, attachments)
	assert.False(t, isList)
}

func TestFetchByIDHonorsContextDeadline(t *testing.T) {
	// A server that accepts the TCP connection but never answers the TLS
	// handshake. The context deadline must still bound the call.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	creds := emaildomain.Credentials{
		Kind:     emaildomain.TransportIMAP,
		Host:     host,
		Port:     port,
		Username: "user",
		Password: "secret",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = NewService().FetchByID(ctx, creds, "INBOX", "1")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, emaildomain.ErrTransient)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestIsBulkSender(t *testing.T) {
	assert.True(t, isBulkSender("noreply@shop.example.com"))
	assert.True(t, isBulkSender("No-Reply@service.example.com"))
	assert.True(t, isBulkSender("newsletter@blog.example.com"))
	assert.False(t, isBulkSender("alice@example.com"))
}

func TestStripTags(t *testing.T) {
	got := stripTags("<p>Hello <b>world</b></p>")
	assert.NotContains(t, got, "<")
	assert.Contains(t, strings.Join(strings.Fields(got), " "), "Hello world")
}
