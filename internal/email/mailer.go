// Package email delivers finished report workbooks over SMTP.
package email

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/dataverse-reports/dataverse-reports/internal/config"
)

// Mailer sends report emails with workbook attachments. apiHost names the
// Dataverse installation in subjects and bodies.
type Mailer struct {
	cfg     *config.NotificationsConfig
	apiHost string
}

// NewMailer returns a mailer for the configured SMTP server.
func NewMailer(cfg *config.NotificationsConfig, apiHost string) *Mailer {
	return &Mailer{cfg: cfg, apiHost: apiHost}
}

// SendAdminReport mails the attached workbooks to the configured
// administrator addresses.
func (m *Mailer) SendAdminReport(reportPaths []string) error {
	if len(m.cfg.AdminEmails) == 0 {
		return fmt.Errorf("no administrator emails configured")
	}
	subject := fmt.Sprintf("Dataverse reports for %s", m.apiHost)
	body := fmt.Sprintf("Attached are the latest Dataverse reports for %s.", m.apiHost)
	return m.send(m.cfg.AdminEmails, subject, body, reportPaths)
}

// SendInstitutionReport mails an account's workbook to its own contacts.
func (m *Mailer) SendInstitutionReport(account config.Account, reportPaths []string) error {
	if len(account.Contacts) == 0 {
		return fmt.Errorf("account %s has no contacts configured", account.Name)
	}
	subject := fmt.Sprintf("Dataverse reports for %s", account.Name)
	body := fmt.Sprintf("Attached are the latest Dataverse reports for %s on %s.",
		account.Name, m.apiHost)
	return m.send(account.Contacts, subject, body, reportPaths)
}

func (m *Mailer) send(to []string, subject, body string, attachments []string) error {
	msg, err := buildMessage(m.cfg.SMTP.From, to, subject, body, attachments)
	if err != nil {
		return err
	}

	smtpCfg := &m.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, to, msg)
}

// buildMessage assembles a multipart MIME message with a plain-text body and
// one base64 attachment per report file. Files that cannot be read are
// skipped with a warning rather than failing the whole mailing.
func buildMessage(from string, to []string, subject, body string, attachments []string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start message body: %w", err)
	}
	fmt.Fprintf(textPart, "%s\r\n", body)

	attached := 0
	for _, path := range attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable attachment", "path", path, "error", err)
			continue
		}
		if err := attachFile(mw, filepath.Base(path), data); err != nil {
			return nil, err
		}
		attached++
	}
	if attached == 0 {
		return nil, fmt.Errorf("no readable attachments among %d report file(s)", len(attachments))
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func attachFile(mw *multipart.Writer, filename string, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType(filename)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return fmt.Errorf("failed to attach %s: %w", filename, err)
	}

	enc := base64.StdEncoding.EncodeToString(data)
	// RFC 2045 limits encoded lines to 76 characters.
	for len(enc) > 0 {
		n := min(76, len(enc))
		if _, err := fmt.Fprintf(part, "%s\r\n", enc[:n]); err != nil {
			return fmt.Errorf("failed to write attachment %s: %w", filename, err)
		}
		enc = enc[n:]
	}
	return nil
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a
// message, falling back to the standard STARTTLS path when the implicit
// handshake is refused.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
