package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"om-smart-go/internal/model"
	"om-smart-go/internal/service"
)

// TemplateHandler 负责模板维护的 API 请求。
type TemplateHandler struct {
	templateService service.TemplateService
}

func NewTemplateHandler(templateService service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

// Create 创建模板，字段校验由 service 完成。
func (h *TemplateHandler) Create(c *gin.Context) {
	var tmpl model.Template
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	created, err := h.templateService.Create(c.Request.Context(), &tmpl)
	if err != nil {
		fail(c, "CreateTemplate", err)
		return
	}
	ok(c, http.StatusCreated, "模板已创建", created)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tmpl, err := h.templateService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "GetTemplate", err)
		return
	}
	ok(c, http.StatusOK, "success", tmpl)
}

func (h *TemplateHandler) List(c *gin.Context) {
	tmpls, err := h.templateService.List(c.Request.Context())
	if err != nil {
		fail(c, "ListTemplates", err)
		return
	}
	ok(c, http.StatusOK, "success", tmpls)
}
