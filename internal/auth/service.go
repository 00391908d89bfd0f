package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Mode 表示认证模式。
type Mode string

// 设备助手只有一个主人，认证退化为单个所有者令牌。
const (
	ModeDisabled   Mode = "disabled"
	ModeOwnerToken Mode = "owner_token"
)

// 认证失败的哨兵错误。
var (
	ErrMissingToken = errors.New("缺少访问令牌")
	ErrInvalidToken = errors.New("访问令牌无效")
)

// Service 校验请求携带的所有者令牌。
type Service struct {
	mode  Mode
	token string
}

// NewService 创建认证服务。令牌为空时禁用认证，仅限本机调试使用。
func NewService(ownerToken string) *Service {
	token := strings.TrimSpace(ownerToken)
	if token == "" {
		return &Service{mode: ModeDisabled}
	}
	return &Service{mode: ModeOwnerToken, token: token}
}

// Enabled 返回认证是否开启。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 校验 Authorization 头，格式为 "Bearer <token>"。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
