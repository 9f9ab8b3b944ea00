package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"accounthub/internal/account"
	"accounthub/internal/pkg/eventstream"
	"accounthub/internal/pkg/metrics"
	"accounthub/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type registerRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Name       string `json:"name"`
	InviteCode string `json:"invite_code"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type codeRequest struct {
	Email      string `json:"email" binding:"required"`
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
}

type activateCodeRequest struct {
	Email      string `json:"email" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
}

type invitationRequest struct {
	Type string `json:"type"`
}

type acceptInvitationRequest struct {
	Code string `json:"code" binding:"required"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Plan string `json:"plan"`
}

// handleRegister 注册新账户。
//
// POST /register
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var extra map[string]any
	if req.Name != "" {
		extra = map[string]any{"name": req.Name}
	}

	d, err := account.FromRegistration(c.Request.Context(), s.store, s.logger, req.Email, req.Password, extra)
	if err != nil {
		s.logger.Error("register failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		return
	}
	if d == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
		return
	}

	// 注册时携带邀请码：未知邀请码不阻断注册，只是不建立推荐关系
	if req.InviteCode != "" {
		snapshot, err := d.AcceptInvitationCode(c.Request.Context(), req.InviteCode)
		if err != nil {
			s.logger.Warn("accept invitation during register failed",
				slog.String("error", err.Error()))
		} else if snapshot == nil {
			s.logger.Info("unknown invitation code ignored",
				slog.String("email", d.Email()))
		} else {
			metrics.InvitationsAcceptedTotal.Inc()
			s.publishEvent(c.Request.Context(), eventstream.EventInvitationAccepted, d.Email(), req.InviteCode)
		}
	}

	metrics.RegistrationsTotal.Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventRegistered, d.Email(), "")

	c.JSON(http.StatusCreated, gin.H{"email": d.Email()})
}

// handleLogin 校验密码并签发 JWT。
//
// POST /login
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := account.New(s.store, s.logger, req.Email)

	blocked, err := d.IsBlocked(c.Request.Context())
	if err != nil {
		s.logger.Error("blocked check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if blocked {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "account is blocked"})
		return
	}

	ok, err := d.Login(c.Request.Context(), req.Password)
	if err != nil {
		s.logger.Error("login failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if !ok {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	plan, err := d.Plan(c.Request.Context())
	if err != nil {
		s.logger.Error("load plan failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := s.issueToken(d.Email(), plan)
	if err != nil {
		s.logger.Error("issue token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventLogin, d.Email(), "")

	c.JSON(http.StatusOK, gin.H{"token": token, "plan": plan})
}

// handleNewCode 签发验证码并异步投递。
//
// POST /code
func (s *Server) handleNewCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := parseChannel(req.Channel)
	d := account.New(s.store, s.logger, req.Email)

	issue, err := d.NewCode(c.Request.Context(), channel, req.Identifier)
	if err != nil {
		var throttled *account.ThrottledError
		switch {
		case errors.As(err, &throttled):
			metrics.CodesIssuedTotal.WithLabelValues(string(channel), "throttled").Inc()
			c.Header("Retry-After", throttled.Remaining.Round(time.Second).String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "code requested too fast",
				"retry_after": int64(throttled.Remaining.Seconds()),
			})
		case errors.Is(err, account.ErrIdentifierRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "identifier is required"})
		default:
			s.logger.Error("issue code failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown error"})
		}
		return
	}

	outcome := "fresh"
	if issue.Reused {
		outcome = "reused"
	}
	metrics.CodesIssuedTotal.WithLabelValues(string(channel), outcome).Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventCodeIssued, d.Email(), string(channel))

	s.dispatchCode(channel, codeRecipient(d.Email(), channel, req.Identifier), issue.Code, issue.TTL)

	c.JSON(http.StatusOK, gin.H{
		"sent":        true,
		"ttl_seconds": int64(issue.TTL.Seconds()),
		"reused":      issue.Reused,
	})
}

// handleActivateCode 兑换验证码。
//
// POST /code/activate
func (s *Server) handleActivateCode(c *gin.Context) {
	var req activateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := parseChannel(req.Channel)
	d := account.New(s.store, s.logger, req.Email)

	ok, err := d.ActivateCode(c.Request.Context(), req.Code, channel, req.Identifier)
	if !ok {
		if err != nil {
			if errors.Is(err, account.ErrIdentifierRequired) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "identifier is required"})
				return
			}
			s.logger.Error("activate code failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown error"})
			return
		}
		metrics.CodesActivatedTotal.WithLabelValues(string(channel), "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}
	if err != nil {
		// 验证码匹配但后续写入失败，记录后按成功返回，验证码键可能残留
		s.logger.Warn("activation writes incomplete", slog.String("error", err.Error()))
	}

	metrics.CodesActivatedTotal.WithLabelValues(string(channel), "ok").Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventCodeActivated, d.Email(), string(channel))

	c.JSON(http.StatusOK, gin.H{"activated": true})
}

// handlePlan 返回静态套餐标签与当前订阅。
//
// GET /me/plan
func (s *Server) handlePlan(c *gin.Context) {
	d := account.New(s.store, s.logger, getEmail(c))

	plan, err := d.Plan(c.Request.Context())
	if err != nil {
		s.logger.Error("load plan failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load plan failed"})
		return
	}

	sub, err := d.CurrentSubscription(c.Request.Context())
	if err != nil {
		s.logger.Error("resolve subscription failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve subscription failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan, "subscription": sub})
}

// handleNewInvitation 为当前账户签发邀请码。
//
// POST /me/invitations
func (s *Server) handleNewInvitation(c *gin.Context) {
	var req invitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = "common"
	}

	d := account.New(s.store, s.logger, getEmail(c))
	code, err := d.NewInvitationCode(c.Request.Context(), req.Type)
	if err != nil {
		s.logger.Error("issue invitation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue invitation failed"})
		return
	}

	metrics.InvitationsIssuedTotal.Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventInvitationIssued, d.Email(), req.Type)

	c.JSON(http.StatusCreated, gin.H{"code": code})
}

// handleAcceptInvitation 接受邀请码，建立推荐关系。
//
// POST /invitations/accept
func (s *Server) handleAcceptInvitation(c *gin.Context) {
	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := account.New(s.store, s.logger, getEmail(c))
	snapshot, err := d.AcceptInvitationCode(c.Request.Context(), req.Code)
	if err != nil {
		s.logger.Error("accept invitation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "accept invitation failed"})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown invitation code"})
		return
	}

	metrics.InvitationsAcceptedTotal.Inc()
	s.publishEvent(c.Request.Context(), eventstream.EventInvitationAccepted, d.Email(), req.Code)

	c.JSON(http.StatusOK, gin.H{
		"inviter_email": snapshot.InviterEmail,
		"type":          snapshot.Type,
	})
}

// handleDeleteAccount 注销账户。邀请码文档与未兑换的验证码不做级联清理。
//
// POST /me/delete
func (s *Server) handleDeleteAccount(c *gin.Context) {
	d := account.New(s.store, s.logger, getEmail(c))

	deleted, err := d.Delete(c.Request.Context())
	if err != nil {
		s.logger.Error("delete account failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}

	if deleted {
		metrics.AccountsDeletedTotal.Inc()
		s.publishEvent(c.Request.Context(), eventstream.EventDeleted, d.Email(), "")
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) issueToken(email, plan string) (string, error) {
	ttl := s.cfg.Security.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Plan: plan,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Security.JWTSecret))
}

// dispatchCode 将验证码投递任务丢进异步队列。
func (s *Server) dispatchCode(channel account.Channel, to, code string, ttl time.Duration) {
	if s.notifyQueue == nil {
		return
	}

	var sender notify.CodeSender
	if channel == account.ChannelPhone {
		sender = s.sms
	} else {
		sender = s.mailer
	}
	if sender == nil {
		return
	}

	ok := s.notifyQueue.Enqueue(func(ctx context.Context) error {
		if err := sender.SendVerificationCode(to, code, ttl); err != nil {
			metrics.NotifyDispatchTotal.WithLabelValues(string(channel), "failed").Inc()
			return err
		}
		metrics.NotifyDispatchTotal.WithLabelValues(string(channel), "ok").Inc()
		return nil
	})
	if !ok {
		metrics.NotifyDispatchTotal.WithLabelValues(string(channel), "dropped").Inc()
	}
}

func (s *Server) publishEvent(ctx context.Context, eventType, email, detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventstream.Event{
		Type:   eventType,
		Email:  email,
		Detail: detail,
	}); err != nil {
		s.logger.Warn("publish event failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}

func parseChannel(raw string) account.Channel {
	if raw == string(account.ChannelPhone) {
		return account.ChannelPhone
	}
	return account.ChannelEmail
}

// codeRecipient 决定验证码投递的目标地址。
func codeRecipient(email string, channel account.Channel, identifier string) string {
	if channel == account.ChannelPhone {
		return identifier
	}
	if identifier != "" {
		return identifier
	}
	return email
}

func getEmail(c *gin.Context) string {
	return c.GetString("email")
}
