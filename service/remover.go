package service

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
)

// Remover 抠图模型的统一接口，输入任意解码后的图片，输出带alpha通道的结果
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// ErrDecode 上传数据无法解码为图片
var ErrDecode = errors.New("cannot decode uploaded data as an image")

// ErrModelNotReady 模型尚未加载完成
var ErrModelNotReady = errors.New("models not loaded")

// MattingError 模型层产生的错误，handler据此映射为500并透传消息
type MattingError struct {
	Err error
}

func (e *MattingError) Error() string {
	return e.Err.Error()
}

func (e *MattingError) Unwrap() error {
	return e.Err
}

// ModelHolder 进程级模型句柄，启动协程加载完成后原子发布，加载前读取返回未就绪
type ModelHolder struct {
	v atomic.Value
}

func NewModelHolder() *ModelHolder {
	return &ModelHolder{}
}

// Set 发布已初始化完成的模型
func (h *ModelHolder) Set(r Remover) {
	h.v.Store(&r)
}

// Get 获取模型，未加载时返回false
func (h *ModelHolder) Get() (Remover, bool) {
	p, ok := h.v.Load().(*Remover)
	if !ok || p == nil {
		return nil, false
	}
	return *p, true
}

// Loaded 模型是否已加载完成
func (h *ModelHolder) Loaded() bool {
	_, ok := h.Get()
	return ok
}
