// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"om-smart-go/internal/model"
	"om-smart-go/internal/service"
	"om-smart-go/pkg/log"
)

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, model.ErrPreconditionFailed), errors.Is(err, model.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// fail 输出错误响应。5xx 只返回通用信息，详细原因写日志。
func fail(c *gin.Context, op string, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Errorf("[Handler] %s 失败: %v", op, err)
		message = "服务器内部错误"
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    nil,
	})
}
