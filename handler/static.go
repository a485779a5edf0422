package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sidharthmenon/withoutbg-api/model"
)

// RegisterStatic 挂载前端构建产物并支持SPA路由回退。
// 目录不存在时不启用静态服务，未匹配路径一律404。
func RegisterStatic(r *gin.Engine, dir string) {
	notFound := func(c *gin.Context) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Detail: "Not found"})
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		r.NoRoute(notFound)
		return
	}

	r.Static("/assets", filepath.Join(dir, "assets"))
	r.StaticFile("/", filepath.Join(dir, "index.html"))

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path

		// API前缀下的未知路径不回退到前端页面
		if strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Detail: "API endpoint not found"})
			return
		}

		if c.Request.Method != http.MethodGet {
			notFound(c)
			return
		}

		// Clean限制在静态目录内，防止路径穿越
		full := filepath.Join(dir, filepath.Clean("/"+path))
		if fi, err := os.Stat(full); err == nil && !fi.IsDir() {
			c.File(full)
			return
		}

		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}

		notFound(c)
	})
}
