package app

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/gpuhub/internal/conn"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/notify"
	"github.com/yungbote/gpuhub/internal/queue"
	"github.com/yungbote/gpuhub/internal/registry"
	"github.com/yungbote/gpuhub/internal/stats"
	"github.com/yungbote/gpuhub/internal/store"
	"github.com/yungbote/gpuhub/internal/transport/ws"
)

type httpRouter struct {
	engine *gin.Engine
}

// newHTTPRouter wires the gin engine the way the teacher's
// internal/server.NewRouter does: cors first, a health check, then the
// endpoint group — generalized here to the hub's two WebSocket endpoints
// (client and worker, the latter also under its legacy composite path)
// instead of a REST resource tree.
func newHTTPRouter(log *logger.Logger, st *store.Store, cm *conn.Manager, qm *queue.Manager, reg *registry.Registry, nb *notify.Bus, sb *stats.Broadcaster, defaultClaimTimeout, idleFreshness time.Duration) *httpRouter {
	engine := gin.Default()

	engine.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	endpoint := ws.New(log, cm, qm, reg, nb, sb, defaultClaimTimeout, idleFreshness)

	wsGroup := engine.Group("/ws")
	{
		wsGroup.GET("/client/:client_id", endpoint.HandleClient)
		wsGroup.GET("/worker/:worker_id", endpoint.HandleWorker)
		// gin allows one wildcard name per path position, so the legacy
		// composite form reuses :worker_id for its first segment and hands
		// HandleWorker the machine_id/gpu_id params it reads for that form.
		wsGroup.GET("/worker/:worker_id/:gpu_id", func(c *gin.Context) {
			c.Params = gin.Params{
				{Key: "machine_id", Value: c.Param("worker_id")},
				{Key: "gpu_id", Value: c.Param("gpu_id")},
			}
			endpoint.HandleWorker(c)
		})
	}

	return &httpRouter{engine: engine}
}

func envOrEmpty(key string) string { return os.Getenv(key) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
