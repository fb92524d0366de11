package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"om-smart-go/internal/service"
)

// SearchHandler 负责处理 listing 范围内的语义检索请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 GET /listings/:listingId/search?q=&k= 请求。
func (h *SearchHandler) Search(c *gin.Context) {
	k, _ := strconv.Atoi(c.DefaultQuery("k", "0"))
	hits, err := h.searchService.Query(c.Request.Context(), c.Param("listingId"), c.Query("q"), k)
	if err != nil {
		fail(c, "Search", err)
		return
	}
	ok(c, http.StatusOK, "success", hits)
}
