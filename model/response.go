package model

// ErrorResponse 错误响应，所有接口的错误均返回detail字段
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Service      string `json:"service"`
	ModelsLoaded bool   `json:"models_loaded"`
}
