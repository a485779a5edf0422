package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sidharthmenon/withoutbg-api/config"
	"github.com/sidharthmenon/withoutbg-api/handler"
	"github.com/sidharthmenon/withoutbg-api/middleware"
	"github.com/sidharthmenon/withoutbg-api/service"
	"github.com/sidharthmenon/withoutbg-api/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting withoutbg-api server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	// 鉴权关闭是刻意的开发模式默认值，启动时提示一次
	if cfg.Auth.Mode() == config.AuthDisabled {
		utils.Logger.Warn("API authentication disabled (no API_TOKENS configured)")
	} else {
		utils.Logger.Info("API authentication enabled",
			zap.Int("tokens", len(cfg.Auth.TokenSet())))
	}

	// 初始化Redis缓存（可选）
	var cache *service.RedisCache
	if cfg.Redis.Enabled {
		cache = service.NewRedisCache(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			cache = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			defer cache.Close()
		}
		cancel()
	}

	// 模型后台加载，加载完成前推理接口返回503，加载失败直接退出
	holder := service.NewModelHolder()
	go func() {
		utils.Logger.Info("loading matting model", zap.String("path", cfg.Model.Path))
		remover, err := service.NewOnnxRemover(&cfg.Model)
		if err != nil {
			utils.Logger.Fatal("failed to load matting model", zap.Error(err))
		}
		holder.Set(remover)
		utils.Logger.Info("models loaded and ready for inference")
	}()

	matting := service.NewMattingService(holder, cache)
	h := handler.New(cfg, matting, Version)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", h.Health)
	r.POST("/remove-background", middleware.APIKeyAuth(&cfg.Auth), h.RemoveBackground)

	// 前端静态资源与SPA回退
	handler.RegisterStatic(r, cfg.Static.Dir)

	addr := cfg.Server.Port
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	utils.Logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Error("error occurred on server shutting down", zap.Error(err))
	}
}
