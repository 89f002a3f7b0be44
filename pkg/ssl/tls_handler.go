package ssl

import (
	"net"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
)

// TlsHandler 明文请求 301 到 https://host:port，并给 https 响应加 HSTS 等安全头。
// 只在 mainConfig.tls 打开时挂载
func TlsHandler(host string, port int) gin.HandlerFunc {
	secureMiddleware := secure.New(secure.Options{
		SSLRedirect:          true,
		SSLHost:              net.JoinHostPort(host, strconv.Itoa(port)),
		SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:           31536000,
		STSIncludeSubdomains: true,
		ContentTypeNosniff:   true,
		FrameDeny:            true,
	})

	return func(c *gin.Context) {
		// Process 已经写好了重定向响应，这里只终止处理链
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		c.Next()
	}
}
