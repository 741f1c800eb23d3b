package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/logging"
)

var logTailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Debug-only surface; origin filtering would just get in the way of
	// local tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

// mountDebugRoutes exposes the live log tail. Only called when debug mode
// is on, so these endpoints never exist in production.
func mountDebugRoutes(r *gin.RouterGroup) {
	logging.InstallHubHook()

	// 轮询口:cursor=0 拿最近一窗,之后带上返回的 cursor 增量拉。
	r.GET("/debug/logs", func(c *gin.Context) {
		cursor, _ := strconv.ParseUint(c.Query("cursor"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		msgs, next, more := logging.Hub().FetchSince(cursor, limit)
		c.JSON(http.StatusOK, gin.H{
			"entries": msgs,
			"cursor":  next,
			"more":    more,
		})
	})

	r.GET("/debug/logs/ws", func(c *gin.Context) {
		conn, err := logTailUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub := logging.Hub()
		if err := hub.Attach(conn); err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			_ = conn.Close()
			return
		}
		log.Debug("log tail websocket attached")
		go func() {
			defer func() {
				hub.Detach(conn)
				_ = conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}
