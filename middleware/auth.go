package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sidharthmenon/withoutbg-api/config"
	"github.com/sidharthmenon/withoutbg-api/model"
)

// APIKeyHeader 携带API密钥的请求头
const APIKeyHeader = "X-API-Key"

// APIKeyAuth API密钥校验。Disabled模式全部放行；TokenSet模式下
// 缺少请求头返回401，密钥不在集合内返回403。支持多个有效密钥以便轮换。
func APIKeyAuth(auth *config.Auth) gin.HandlerFunc {
	if auth.Mode() == config.AuthDisabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	tokens := auth.TokenSet()
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Detail: "API key is missing. Please provide X-API-Key header.",
			})
			return
		}

		if _, ok := tokens[key]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, model.ErrorResponse{
				Detail: "Invalid API key",
			})
			return
		}

		c.Next()
	}
}
