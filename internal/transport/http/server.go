package http

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"docqa/internal/bootstrap"
	"docqa/internal/transport/http/handler"
	"docqa/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())
	router.MaxMultipartMemory = 8 << 20

	healthHandler := handler.NewHealthHandler(app)
	documentHandler := handler.NewDocumentHandler(app.Documents)
	chatHandler := handler.NewChatHandler(app.Answers)
	auth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	router.StaticFile("/", filepath.Join(app.Config.App.WebDir, "chat.html"))
	router.GET("/healthz", healthHandler.Check)

	router.POST("/upload", auth, documentHandler.Upload)
	router.POST("/api/upload/", auth, documentHandler.Upload)
	router.GET("/api/documents/", auth, documentHandler.List)

	v1 := router.Group("/api/v1")
	v1.Use(auth)
	v1.POST("/documents", documentHandler.Upload)
	v1.GET("/documents", documentHandler.List)
	v1.GET("/documents/:id", documentHandler.Get)

	router.GET("/ws/chat/", auth, chatHandler.Serve)

	return router
}
