package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"om-smart-go/internal/model"
	"om-smart-go/internal/service"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GenerationHandler 负责 OM 生成相关的 API 请求。
type GenerationHandler struct {
	genService   service.GenerationService
	jwtManager   *token.JWTManager
	pollInterval time.Duration
}

// NewGenerationHandler 创建一个新的 GenerationHandler 实例。
func NewGenerationHandler(genService service.GenerationService, jwtManager *token.JWTManager) *GenerationHandler {
	return &GenerationHandler{genService: genService, jwtManager: jwtManager, pollInterval: 2 * time.Second}
}

// RequestGenerationRequest 定义了发起生成的请求体结构。
type RequestGenerationRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

func (h *GenerationHandler) Request(c *gin.Context) {
	var req RequestGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	gen, err := h.genService.Request(c.Request.Context(), c.Param("listingId"), req.TemplateID)
	if err != nil {
		fail(c, "RequestGeneration", err)
		return
	}
	ok(c, http.StatusAccepted, "生成任务已提交", gen)
}

func (h *GenerationHandler) GetStatus(c *gin.Context) {
	gen, err := h.genService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "GetGenerationStatus", err)
		return
	}
	ok(c, http.StatusOK, "success", gen)
}

func (h *GenerationHandler) ListByListing(c *gin.Context) {
	gens, err := h.genService.ListByListing(c.Request.Context(), c.Param("listingId"))
	if err != nil {
		fail(c, "ListGenerations", err)
		return
	}
	ok(c, http.StatusOK, "success", gens)
}

func (h *GenerationHandler) Regenerate(c *gin.Context) {
	gen, err := h.genService.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Regenerate", err)
		return
	}
	ok(c, http.StatusAccepted, "生成任务已重新提交", gen)
}

// Download 以附件形式返回产物字节流。
func (h *GenerationHandler) Download(c *gin.Context) {
	art, err := h.genService.DownloadArtifact(c.Request.Context(), c.Param("id"), c.Param("format"))
	if err != nil {
		fail(c, "Download", err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(art.FileName))
	c.Data(http.StatusOK, art.ContentType, art.Data)
}

// statusMessage 是推送给 WebSocket 客户端的状态帧。
type statusMessage struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
	Error  *string      `json:"error,omitempty"`
}

// Watch 通过 WebSocket 推送生成状态，状态变化时发送一帧，进入终态后关闭连接。
// 浏览器无法为 WebSocket 设置请求头，token 通过查询参数传递。
func (h *GenerationHandler) Watch(c *gin.Context) {
	if _, err := h.jwtManager.VerifyToken(c.Query("token")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	gen, err := h.genService.GetStatus(ctx, id)
	if err != nil {
		fail(c, "Watch", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	// 读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	var last model.Status
	for {
		if gen.Status != last {
			if err := conn.WriteJSON(statusMessage{ID: gen.ID, Status: gen.Status, Error: gen.ErrorDetail}); err != nil {
				log.Warnf("[Watch] 推送状态失败, ID: %s, err: %v", id, err)
				return
			}
			last = gen.Status
		}
		if gen.Status.IsTerminal() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(gen.Status)))
			return
		}

		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if gen, err = h.genService.GetStatus(ctx, id); err != nil {
			log.Warnf("[Watch] 查询状态失败, ID: %s, err: %v", id, err)
			return
		}
	}
}
