package service

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/sidharthmenon/withoutbg-api/config"
	"github.com/sidharthmenon/withoutbg-api/utils"
)

// ModelMetadata 模型元信息，与onnx文件放在一起
type ModelMetadata struct {
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
}

// OnnxRemover 基于预训练matting模型的抠图实现
type OnnxRemover struct {
	session      *ort.AdvancedSession
	metadata     ModelMetadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	// session和张量是预分配的，推理必须串行
	mu           sync.Mutex
	semaphore    chan struct{}
	queueTimeout time.Duration
}

// NewOnnxRemover 加载模型，构造过程较慢，进程内只执行一次
func NewOnnxRemover(cfg *config.Model) (*OnnxRemover, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}

	var metadata ModelMetadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse model metadata: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Path,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &OnnxRemover{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: cfg.QueueTimeout,
	}, nil
}

// Remove 运行一次推理，返回带alpha通道的结果图
func (r *OnnxRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	// 并发控制，超时直接报错而不是无限排队
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-time.After(r.queueTimeout):
		return nil, &MattingError{Err: fmt.Errorf("inference queue is full, try again later")}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()

	mask, err := r.infer(img)
	if err != nil {
		return nil, &MattingError{Err: err}
	}

	bounds := img.Bounds()
	fullMask := imaging.Resize(mask, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
	out := applyAlphaMask(img, fullMask)

	utils.Logger.Debug("inference completed",
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Duration("cost", time.Since(start)))

	return out, nil
}

// infer 预处理+执行session，返回模型分辨率下的前景掩码
func (r *OnnxRemover) infer(img image.Image) (*image.Gray, error) {
	size := r.metadata.ImageSize

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	r.mu.Lock()
	defer r.mu.Unlock()

	input := r.inputTensor.GetData()
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			pr, pg, pb, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			input[idx] = float32(pr) / 65535.0
			input[plane+idx] = float32(pg) / 65535.0
			input[2*plane+idx] = float32(pb) / 65535.0
		}
	}

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	output := r.outputTensor.GetData()
	mask := image.NewGray(image.Rect(0, 0, size, size))
	for i := 0; i < plane && i < len(output); i++ {
		v := output[i]
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		mask.Pix[i] = uint8(v*255 + 0.5)
	}

	return mask, nil
}

// Close 释放session和张量
func (r *OnnxRemover) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Destroy()
	}
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
}

// applyAlphaMask 把掩码写入alpha通道，颜色取自原图
func applyAlphaMask(src image.Image, mask image.Image) *image.NRGBA {
	bounds := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	maskBounds := mask.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			pr, pg, pb, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			m := color.GrayModel.Convert(mask.At(maskBounds.Min.X+x, maskBounds.Min.Y+y)).(color.Gray)
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(pr >> 8),
				G: uint8(pg >> 8),
				B: uint8(pb >> 8),
				A: m.Y,
			})
		}
	}

	return out
}
