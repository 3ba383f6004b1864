package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/vprocbox/vprocbox/internal/container"
	"github.com/vprocbox/vprocbox/internal/interceptor"
)

// SetupRouter configures every route in the demo control plane: the
// process/filesystem/network resource endpoints, the iframe fetch-shim
// websocket, and the swagger UI, behind a recovery/CORS/no-cache/logrus
// request-logging middleware stack.
func SetupRouter(manager *container.Manager, disableRequestLogging bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	if !disableRequestLogging {
		r.Use(logrusMiddleware())
	}

	r.GET("/swagger", func(c *gin.Context) { c.Redirect(http.StatusMovedPermanently, "/swagger/index.html") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	baseHandler := NewBaseHandler()
	processHandler := NewProcessHandler(manager)
	fsHandler := NewFileSystemHandler(manager)
	networkHandler := NewNetworkHandler(manager)
	in := interceptor.New(interceptor.ContainerRequester{Manager: manager})

	r.GET("/", baseHandler.HandleWelcome)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.POST("/process", processHandler.HandleSpawn)
	r.GET("/process", processHandler.HandleList)
	r.GET("/process/:pid", processHandler.HandleGet)
	r.POST("/process/:pid/input", processHandler.HandleWriteInput)
	r.DELETE("/process/:pid", processHandler.HandleKill)
	r.GET("/stats", processHandler.HandleStats)

	r.GET("/filesystem/*path", fsHandler.HandleGetFile)
	r.PUT("/filesystem/*path", fsHandler.HandleWriteFile)
	r.DELETE("/filesystem/*path", fsHandler.HandleDeleteFile)
	r.GET("/filesystem-list/*path", fsHandler.HandleListFiles)
	r.POST("/directory/*path", fsHandler.HandleCreateDirectory)
	r.GET("/directory/*path", fsHandler.HandleListDirectory)
	r.DELETE("/directory/*path", fsHandler.HandleDeleteDirectory)

	r.POST("/network/http", networkHandler.HandleHTTPRequest)
	r.GET("/network/servers", networkHandler.HandleListServers)

	in.Register(r)

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Next()
	}
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		status := c.Writer.Status()

		msg := fmt.Sprintf("%s %s %d %dms", c.Request.Method, path, status, latency)
		switch {
		case status >= http.StatusInternalServerError:
			logrus.Error(msg)
		case status >= http.StatusBadRequest:
			logrus.Warn(msg)
		default:
			logrus.Info(msg)
		}
	}
}
