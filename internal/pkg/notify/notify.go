package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accounthub/internal/config"

	"gopkg.in/gomail.v2"
)

// CodeSender 定义验证码投递接口。
type CodeSender interface {
	// SendVerificationCode 向指定接收方投递验证码。
	SendVerificationCode(to string, code string, ttl time.Duration) error
}

// EmailNotifier 通过 SMTP 投递验证码邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendVerificationCode 发送邮箱验证码。
func (n *EmailNotifier) SendVerificationCode(to string, code string, ttl time.Duration) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "[AccountHub] 邮箱验证码")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>AccountHub 邮箱验证</h2>
    <p>你的验证码是：</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>验证码有效期 %d 分钟。</p>
  </div>
</body>
</html>`, code, int(ttl.Minutes()))
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("verification email sent", slog.String("to", to))
	}
	return nil
}

// SMSNotifier 负责手机验证码投递。
//
// TODO: 接入短信服务商后替换为真实发送，目前只记录日志。
type SMSNotifier struct {
	logger *slog.Logger
}

// NewSMSNotifier 创建短信通知器。
func NewSMSNotifier(logger *slog.Logger) *SMSNotifier {
	return &SMSNotifier{logger: logger}
}

// SendVerificationCode 投递手机验证码。
func (n *SMSNotifier) SendVerificationCode(to string, code string, ttl time.Duration) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}
	if n.logger != nil {
		n.logger.Warn("sms provider not configured, code not delivered",
			slog.String("to", to))
	}
	return nil
}
