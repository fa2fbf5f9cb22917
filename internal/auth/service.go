package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"contract-deployer/internal/config"
	"contract-deployer/pkg/logger"

	"github.com/golang-jwt/jwt/v4"
)

// credential is a static API token, kept only as its SHA-256 digest.
type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode        Mode
	credentials []credential
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
	audit       *slog.Logger
}

// claims 是 JWT 模式下接受的令牌载荷。
type claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// NewService 根据配置构造身份认证服务实例。
func NewService(cfg config.AuthConfig) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		for _, tc := range cfg.Tokens {
			cred, err := newCredential(tc)
			if err != nil {
				return nil, err
			}
			svc.credentials = append(svc.credentials, cred)
		}
		if len(svc.credentials) == 0 {
			return nil, errors.New("token mode requires at least one token")
		}
	case ModeJWT:
		secret := strings.TrimSpace(os.Getenv(cfg.JWT.SecretEnv))
		if cfg.JWT.SecretEnv == "" || secret == "" {
			return nil, errors.New("jwt secret must be provided through jwt.secret_env")
		}
		svc.jwtSecret = []byte(secret)
		svc.jwtIssuer = cfg.JWT.Issuer
		svc.jwtAudience = cfg.JWT.Audience
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

func newCredential(tc config.TokenConfig) (credential, error) {
	name := strings.TrimSpace(tc.Name)
	if name == "" {
		return credential{}, errors.New("token name cannot be empty")
	}
	cred := credential{subject: &Subject{
		Name:        name,
		Permissions: append([]string(nil), tc.Permissions...),
		Disabled:    tc.Disabled,
	}}
	cred.subject.normalise()

	switch {
	case tc.SHA256 != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(tc.SHA256), "0x"))
		if err != nil || len(raw) != sha256.Size {
			return credential{}, fmt.Errorf("token %s: sha256 must be 32 hex encoded bytes", name)
		}
		copy(cred.digest[:], raw)
	case tc.Env != "":
		value := strings.TrimSpace(os.Getenv(tc.Env))
		if value == "" {
			return credential{}, fmt.Errorf("token %s: environment variable %s is empty", name, tc.Env)
		}
		cred.digest = sha256.Sum256([]byte(value))
	default:
		return credential{}, fmt.Errorf("token %s: either sha256 or env must be set", name)
	}
	return cred, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeToken:
		return s.verifyToken(token)
	case ModeJWT:
		return s.verifyJWT(token)
	default:
		return nil, ErrDisabled
	}
}

// verifyToken 在全部静态令牌上做常量时间比较。
func (s *Service) verifyToken(token string) (*Subject, error) {
	digest := sha256.Sum256([]byte(token))
	var match *Subject
	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], cred.digest[:]) == 1 {
			match = cred.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.Disabled {
		return nil, ErrSubjectRevoked
	}
	return match.Clone(), nil
}

// verifyJWT 验证 HS256 令牌并返回相应的主体信息。
func (s *Service) verifyJWT(token string) (*Subject, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if s.jwtIssuer != "" && !c.VerifyIssuer(s.jwtIssuer, true) {
		return nil, ErrInvalidToken
	}
	if s.jwtAudience != "" && !c.VerifyAudience(s.jwtAudience, true) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Name: c.Subject, Permissions: c.Permissions}
	subject.normalise()
	return subject, nil
}

// IssueToken 签发一个 HS256 令牌，供运维脚本与测试使用。
func IssueToken(secret []byte, subject string, permissions []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret cannot be empty")
	}
	now := time.Now()
	c := claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}
