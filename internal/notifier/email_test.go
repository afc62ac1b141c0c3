package notifier

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

func validEmailConfig() models.DeliveryConfig {
	return models.DeliveryConfig{
		ID:       "mail-1",
		Channel:  models.ChannelEmail,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Address:  "alerts@example.com",
		Token:    "secret",
		From:     "Alerts <alerts@example.com>",
		Subject:  "Alerts",
	}
}

func TestEmailSenderValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.DeliveryConfig)
		errMsg string
	}{
		{name: "missing host", mutate: func(c *models.DeliveryConfig) { c.SMTPHost = "" }, errMsg: "SMTP host is required"},
		{name: "missing port", mutate: func(c *models.DeliveryConfig) { c.SMTPPort = 0 }, errMsg: "SMTP port is required"},
		{name: "missing address", mutate: func(c *models.DeliveryConfig) { c.Address = "" }, errMsg: "account address is required"},
		{name: "missing token", mutate: func(c *models.DeliveryConfig) { c.Token = "" }, errMsg: "account token is required"},
		{name: "missing from", mutate: func(c *models.DeliveryConfig) { c.From = "" }, errMsg: "from address is required"},
		{name: "valid config"},
	}

	sender, err := NewEmailSender()
	if err != nil {
		t.Fatalf("NewEmailSender: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validEmailConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := sender.Validate(cfg)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("error %v does not wrap ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestTemplatesRender(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	n := testNotification("alert", "board")
	n.SubjectName = "Boiler <1>"
	n.Spec.Property = "State/Value"
	data := NotificationToTemplateData(validEmailConfig(), n)

	plain, err := templates.RenderPlain(data)
	if err != nil {
		t.Fatalf("RenderPlain: %v", err)
	}
	for _, want := range []string{n.Message, "Boiler <1>", "MONITOR_ITEM (State/Value)", "alert, board", n.ID} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain body missing %q:\n%s", want, plain)
		}
	}

	html, err := templates.RenderHTML(data)
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "Boiler &lt;1&gt;") {
		t.Error("HTML body does not escape the subject name")
	}
	if !strings.Contains(html, "#d32f2f") {
		t.Error("HTML body missing the item alarm color")
	}
}

func TestEmailSubject(t *testing.T) {
	cfg := validEmailConfig()
	if got := emailSubject(cfg, testNotification("alert", "board")); got != "Alerts alert board" {
		t.Errorf("emailSubject() = %q", got)
	}
	cfg.Subject = ""
	if got := emailSubject(cfg, testNotification("alert")); got != "alert" {
		t.Errorf("emailSubject() without prefix = %q", got)
	}
}

func TestAlarmColor(t *testing.T) {
	tests := map[string]string{
		models.AlarmMonitorItem:   "#d32f2f",
		models.AlarmMonitorObject: "#f57c00",
		models.AlarmWidgetItem:    "#1976d2",
		"":                        "#757575",
	}
	for alarm, want := range tests {
		if got := alarmColor(alarm); got != want {
			t.Errorf("alarmColor(%q) = %q, want %q", alarm, got, want)
		}
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	msg := string(buildMIMEMessage("Alerts <alerts@example.com>", "ops@example.com", "Subject line", "plain body", "<p>html body</p>"))

	for _, want := range []string{
		"From: Alerts <alerts@example.com>\r\n",
		"To: ops@example.com\r\n",
		"Subject: Subject line\r\n",
		"MIME-Version: 1.0\r\n",
		"multipart/alternative",
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		"plain body",
		"<p>html body</p>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test@example.com", "test@example.com"},
		{"Test User <test@example.com>", "test@example.com"},
		{"BlazeAlarm <alerts@example.com>", "alerts@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractEmail(tt.input); got != tt.want {
				t.Errorf("extractEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// mockSMTPServer creates a mock SMTP server for testing.
type mockSMTPServer struct {
	listener net.Listener
	messages [][]byte
	rcpts    []string
	authed   bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	server := &mockSMTPServer{listener: listener}
	server.wg.Add(1)
	go server.serve()
	return server
}

func (s *mockSMTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *mockSMTPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			writer.WriteString(l + "\r\n")
		}
		writer.Flush()
	}

	reply("220 localhost SMTP Mock Server")

	var dataMode bool
	var messageData []byte

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		if dataMode {
			if line == "." {
				dataMode = false
				s.mu.Lock()
				s.messages = append(s.messages, messageData)
				s.mu.Unlock()
				messageData = nil
				reply("250 OK")
				continue
			}
			messageData = append(messageData, []byte(line+"\n")...)
			continue
		}

		upperLine := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upperLine, "EHLO"), strings.HasPrefix(upperLine, "HELO"):
			reply("250-localhost", "250 AUTH PLAIN")
		case strings.HasPrefix(upperLine, "AUTH"):
			s.mu.Lock()
			s.authed = true
			s.mu.Unlock()
			reply("235 Authentication successful")
		case strings.HasPrefix(upperLine, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(upperLine, "RCPT TO"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line[len("RCPT TO:"):])
			s.mu.Unlock()
			reply("250 OK")
		case upperLine == "DATA":
			reply("354 Start mail input")
			dataMode = true
		case upperLine == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("500 Unknown command")
		}
	}
}

func (s *mockSMTPServer) hostPort(t *testing.T) (string, int) {
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func (s *mockSMTPServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *mockSMTPServer) snapshot() (msgs [][]byte, rcpts []string, authed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.messages...), append([]string(nil), s.rcpts...), s.authed
}

func TestEmailSenderSendWithMockSMTP(t *testing.T) {
	server := newMockSMTPServer(t)
	defer server.close()

	cfg := validEmailConfig()
	cfg.SMTPHost, cfg.SMTPPort = server.hostPort(t)

	sender, err := NewEmailSender()
	if err != nil {
		t.Fatalf("NewEmailSender: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := testNotification("alert", "board")
	if err := sender.Send(ctx, cfg, testUser("alice"), n); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Wait a bit for the message to be processed
	time.Sleep(100 * time.Millisecond)

	msgs, rcpts, authed := server.snapshot()
	if len(msgs) == 0 {
		t.Fatal("no messages received by mock server")
	}
	if !authed {
		t.Error("sender did not authenticate")
	}
	if len(rcpts) != 1 || !strings.Contains(rcpts[0], "alice@example.com") {
		t.Errorf("recipients = %v, want alice@example.com", rcpts)
	}

	msg := string(msgs[0])
	if !strings.Contains(msg, "Subject: Alerts alert board") {
		t.Error("message doesn't contain the composed subject")
	}
	if !strings.Contains(msg, n.Message) {
		t.Error("message doesn't contain the notification text")
	}
}

func TestEmailSenderConnectionRefused(t *testing.T) {
	server := newMockSMTPServer(t)
	cfg := validEmailConfig()
	cfg.SMTPHost, cfg.SMTPPort = server.hostPort(t)
	server.close()

	sender, err := NewEmailSender()
	if err != nil {
		t.Fatalf("NewEmailSender: %v", err)
	}
	err = sender.Send(context.Background(), cfg, testUser("alice"), testNotification())
	if err == nil || !strings.Contains(err.Error(), "failed to connect") {
		t.Errorf("expected connection error, got %v", err)
	}
}
