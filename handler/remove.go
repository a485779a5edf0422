package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sidharthmenon/withoutbg-api/config"
	"github.com/sidharthmenon/withoutbg-api/model"
	"github.com/sidharthmenon/withoutbg-api/service"
	"github.com/sidharthmenon/withoutbg-api/utils"
)

type Handler struct {
	cfg     *config.Config
	matting *service.MattingService
	version string
}

func New(cfg *config.Config, matting *service.MattingService, version string) *Handler {
	return &Handler{
		cfg:     cfg,
		matting: matting,
		version: version,
	}
}

// RemoveBackground 处理抠图请求：校验、处理、按请求格式返回图片
func (h *Handler) RemoveBackground(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: "No file provided. Use 'file' as the form field name.",
		})
		return
	}

	if fileHeader.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: fmt.Sprintf("File too large, limit is %d MB", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 解码之前先看声明的类型
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: "File must be an image",
		})
		return
	}

	spec := model.OutputSpec{
		Format:  c.DefaultPostForm("format", model.DefaultFormat),
		Quality: model.DefaultQuality,
	}
	if q := c.PostForm("quality"); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Detail: "quality must be an integer between 1 and 100",
			})
			return
		}
		spec.Quality = quality
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: "Failed to read uploaded file",
		})
		return
	}
	defer src.Close()

	payload, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: "Failed to read uploaded file",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.ProcessTimeout)
	defer cancel()

	data, err := h.matting.ProcessImage(ctx, payload, spec)
	if err != nil {
		h.writeProcessError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=withoutbg.%s", spec.Extension()))
	c.Data(http.StatusOK, spec.MediaType(), data)
}

// writeProcessError 错误分类映射：可用性503、解码400、模型错误500透传、其余500
func (h *Handler) writeProcessError(c *gin.Context, err error) {
	var mattingErr *service.MattingError

	switch {
	case errors.Is(err, service.ErrModelNotReady):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Detail: "Models not loaded. Server may still be starting up.",
		})
	case errors.Is(err, service.ErrDecode):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Detail: err.Error(),
		})
	case errors.As(err, &mattingErr):
		utils.Logger.Error("matting failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Detail: mattingErr.Error(),
		})
	default:
		utils.Logger.Error("processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Detail: fmt.Sprintf("Processing failed: %s", err.Error()),
		})
	}
}
