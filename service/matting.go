package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/sidharthmenon/withoutbg-api/model"
	"github.com/sidharthmenon/withoutbg-api/utils"
)

// MattingService 抠图请求处理流水线：解码、查缓存、推理、编码、写缓存
type MattingService struct {
	holder *ModelHolder
	cache  *RedisCache
}

// NewMattingService cache可为nil，此时每个请求都走完整处理
func NewMattingService(holder *ModelHolder, cache *RedisCache) *MattingService {
	return &MattingService{
		holder: holder,
		cache:  cache,
	}
}

// Ready 模型是否可用
func (s *MattingService) Ready() bool {
	return s.holder.Loaded()
}

// ProcessImage 处理一次抠图请求，返回编码后的图片字节
func (s *MattingService) ProcessImage(ctx context.Context, payload []byte, spec model.OutputSpec) ([]byte, error) {
	remover, ok := s.holder.Get()
	if !ok {
		return nil, ErrModelNotReady
	}

	key := CacheKey(utils.BytesMD5(payload), spec.Normalized(), clampQuality(spec.Quality))
	if s.cache != nil {
		data, err := s.cache.GetResult(ctx, key)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		} else if data != nil {
			utils.Logger.Info("cache hit", zap.String("cache_key", key))
			return data, nil
		}
	}

	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	utils.Logger.Debug("image decoded",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	result, err := remover.Remove(ctx, img)
	if err != nil {
		return nil, err
	}

	data, err := EncodeImage(result, spec)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetResult(ctx, key, data); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	return data, nil
}
