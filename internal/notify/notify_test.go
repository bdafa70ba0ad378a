package notify

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func sampleMessage() Message {
	return Message{
		AppointmentID: uuid.New(),
		PatientID:     "pt-1",
		To:            "jane@example.com",
		Subject:       "Appointment Reminder - Sunday, October 26, 2025 at 09:00",
		Body:          "Dear Jane,\nSee you soon.",
		ScheduledAt:   time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC),
	}
}

func TestLogDispatcher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewLogDispatcher(zap.New(core))
	m := sampleMessage()

	require.NoError(t, d.Send(context.Background(), m))
	entries := logs.FilterMessage("reminder").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, m.AppointmentID.String(), fields["appointment_id"])
	assert.Equal(t, m.Subject, fields["subject"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Send(ctx, m), context.Canceled)
}

// fakeSMTP accepts one session and records the DATA section.
type fakeSMTP struct {
	ln   net.Listener
	data chan string
	rcpt chan string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, data: make(chan string, 1), rcpt: make(chan string, 1)}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	tp := textproto.NewConn(conn)
	reply := func(line string) { _ = tp.PrintfLine("%s", line) }

	reply("220 fake.local ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake.local")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			s.rcpt <- line
			reply("250 OK")
		case cmd == "DATA":
			reply("354 end with .")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.data <- strings.Join(lines, "\n")
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (s *fakeSMTP) port(t *testing.T) int {
	_, p, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func TestSMTPDispatcherSends(t *testing.T) {
	srv := startFakeSMTP(t)
	d := NewSMTPDispatcher(SMTPConfig{Host: "127.0.0.1", Port: srv.port(t), Sender: "alerts@clinic.test"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := sampleMessage()
	require.NoError(t, d.Send(ctx, m))

	assert.Contains(t, <-srv.rcpt, "jane@example.com")
	body := <-srv.data
	assert.Contains(t, body, "Subject: "+m.Subject)
	assert.Contains(t, body, "To: jane@example.com")
	assert.Contains(t, body, "See you soon.")
}

func TestSMTPDispatcherFailures(t *testing.T) {
	d := NewSMTPDispatcher(SMTPConfig{Host: "127.0.0.1", Port: 1, Sender: "alerts@clinic.test"})

	m := sampleMessage()
	m.To = ""
	assert.ErrorIs(t, d.Send(context.Background(), m), apperr.ErrDispatch)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d = NewSMTPDispatcher(SMTPConfig{Host: "127.0.0.1", Port: port, Sender: "alerts@clinic.test"})
	err = d.Send(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, apperr.ErrDispatch)
}

func TestSMTPComposeUsesCRLF(t *testing.T) {
	d := NewSMTPDispatcher(SMTPConfig{Host: "mail", Port: 25, Sender: "alerts@clinic.test"})
	d.now = func() time.Time { return time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC) }

	raw := string(d.compose(sampleMessage()))
	r := textproto.NewReader(bufio.NewReader(strings.NewReader(raw)))
	hdr, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "alerts@clinic.test", hdr.Get("From"))
	assert.Equal(t, "Sat, 25 Oct 2025 09:00:00 +0000", hdr.Get("Date"))
	assert.Contains(t, raw, "Dear Jane,\r\nSee you soon.\r\n")
}
