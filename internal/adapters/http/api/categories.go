package api

import (
	"net/http"

	"github.com/okian/cadenza/internal/domain/category"
)

// CategoriesHandler lists the category registry.
type CategoriesHandler struct {
	list func() []category.Schema
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(list func() []category.Schema) *CategoriesHandler {
	return &CategoriesHandler{list: list}
}

// HandleList handles GET /categories requests.
func (h *CategoriesHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.list())
}
