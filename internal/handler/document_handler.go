package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"om-smart-go/internal/service"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService  service.DocumentService
	maxUploadMB int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxUploadMB int64) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentHandler{docService: docService, maxUploadMB: maxUploadMB}
}

// Submit 处理 multipart 上传：表单字段 file 为文件，mime_type 可选。
// 返回 202，抽取在后台进行。
func (h *DocumentHandler) Submit(c *gin.Context) {
	limit := h.maxUploadMB << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, "Submit", fmt.Errorf("%w: 缺少上传文件", service.ErrInvalidInput))
		return
	}
	if fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "message": "文件过大", "data": nil})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		fail(c, "Submit", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, "Submit", err)
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}

	doc, err := h.docService.Submit(c.Request.Context(), service.SubmitRequest{
		ListingID: c.Param("listingId"),
		FileName:  fileHeader.Filename,
		MimeType:  mimeType,
		Data:      data,
	})
	if err != nil {
		fail(c, "Submit", err)
		return
	}
	ok(c, http.StatusAccepted, "文档已提交", doc)
}

func (h *DocumentHandler) GetStatus(c *gin.Context) {
	doc, err := h.docService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "GetStatus", err)
		return
	}
	ok(c, http.StatusOK, "success", doc)
}

func (h *DocumentHandler) ListByListing(c *gin.Context) {
	docs, err := h.docService.ListByListing(c.Request.Context(), c.Param("listingId"))
	if err != nil {
		fail(c, "ListByListing", err)
		return
	}
	ok(c, http.StatusOK, "success", docs)
}

// Resubmit 只接受 failed 状态的文档。
func (h *DocumentHandler) Resubmit(c *gin.Context) {
	doc, err := h.docService.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Resubmit", err)
		return
	}
	ok(c, http.StatusAccepted, "文档已重新提交", doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.docService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "Delete", err)
		return
	}
	ok(c, http.StatusOK, "文档已删除", nil)
}

// SupportedTypes 返回按格式分组的可上传 MIME 类型。
func (h *DocumentHandler) SupportedTypes(c *gin.Context) {
	ok(c, http.StatusOK, "success", h.docService.SupportedTypes())
}
