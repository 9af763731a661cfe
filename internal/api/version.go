package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
)

const (
	// HeaderAPIVersion is the request and response header carrying the API version
	HeaderAPIVersion = "X-API-Version"

	// DefaultAPIVersion is the version served when the client does not ask for one
	DefaultAPIVersion = "1.0"
)

// VersionMiddleware sets X-API-Version on responses and rejects requests for
// versions outside supported
func VersionMiddleware(version string, supported []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)

		requested := c.GetHeader(HeaderAPIVersion)
		if requested == "" {
			c.Set("api_version", version)
			c.Next()
			return
		}

		if !isVersionSupported(requested, supported) {
			apperrors.HandleError(c, apperrors.New("UNSUPPORTED_API_VERSION", "Requested API version is not supported", 406).
				WithMetadata("supported_versions", supported))
			c.Abort()
			return
		}
		c.Set("api_version", requested)
		c.Next()
	}
}

// isVersionSupported accepts both "1" and "1.0" style versions
func isVersionSupported(version string, supported []string) bool {
	for _, v := range supported {
		if v == version || strings.HasPrefix(v, version+".") {
			return true
		}
	}
	return false
}

// GetVersion returns the negotiated API version
func GetVersion(c *gin.Context) string {
	if v := c.GetString("api_version"); v != "" {
		return v
	}
	return DefaultAPIVersion
}
