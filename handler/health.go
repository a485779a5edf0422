package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sidharthmenon/withoutbg-api/model"
)

// ServiceName 健康检查里上报的服务名
const ServiceName = "withoutbg-api"

// Health 健康检查，models_loaded反映模型是否加载完成
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Service:      ServiceName,
		ModelsLoaded: h.matting.Ready(),
	})
}
