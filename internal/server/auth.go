package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"sudooom.arena/internal/ledger"
	apperrors "sudooom.arena/pkg/errors"
	"sudooom.arena/pkg/response"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// ctxAddress 认证后的钱包地址
const ctxAddress = "address"

// Claims 钱包登录服务签发的令牌声明
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Verifier 校验钱包会话令牌
type Verifier struct {
	secretKey []byte
	issuer    string
}

// NewVerifier secret 为空时返回 nil，表示不启用认证
func NewVerifier(secret, issuer string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secretKey: []byte(secret), issuer: issuer}
}

// Issue 签发令牌，供测试与运维脚本使用
func (v *Verifier) Issue(address string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Address: ledger.NormalizeAddress(address),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
}

// Verify 校验令牌并返回声明
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || ledger.NormalizeAddress(claims.Address) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Auth 认证中间件。verifier 为 nil 时放行，玩家身份取请求中的 player
func Auth(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}

		// EventSource 与浏览器 WebSocket 无法设置请求头，允许通过 query 传递
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			response.Abort(c, apperrors.ErrUnauthorized.WithReason("token_missing"))
			return
		}

		claims, err := v.Verify(token)
		if err != nil {
			reason := "token_invalid"
			if errors.Is(err, ErrTokenExpired) {
				reason = "token_expired"
			}
			response.Abort(c, apperrors.ErrUnauthorized.WithReason(reason))
			return
		}

		c.Set(ctxAddress, ledger.NormalizeAddress(claims.Address))
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// playerOf 认证地址优先，否则使用请求携带的地址
func playerOf(c *gin.Context, fallback string) string {
	if addr := c.GetString(ctxAddress); addr != "" {
		return addr
	}
	return fallback
}
