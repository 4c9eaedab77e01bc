// products.go implements handlers for the billable product catalog. Products
// are soft-deleted so historical time entries keep their reference.
package billing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// ProductHandlers handles product endpoints
type ProductHandlers struct {
	productRepo *repositories.ProductRepository
}

// NewProductHandlers creates a new ProductHandlers instance
func NewProductHandlers(productRepo *repositories.ProductRepository) *ProductHandlers {
	return &ProductHandlers{productRepo: productRepo}
}

// @Summary      List products
// @Description  Lists non-deleted products ordered by name.
// @Tags         Products
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "products"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/products [get]
// ListProducts lists products
// GET /api/v1/products
func (h *ProductHandlers) ListProducts(c *gin.Context) {
	products, err := h.productRepo.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// @Summary      Get product
// @Description  Retrieves a single product by ID. Soft-deleted products are returned with deleted_at set.
// @Tags         Products
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Product ID"
// @Success      200  {object}  map[string]interface{}  "product"
// @Failure      400  {object}  map[string]interface{}  "Invalid product ID"
// @Failure      404  {object}  map[string]interface{}  "Product not found"
// @Router       /api/v1/products/{id} [get]
// GetProduct retrieves one product
// GET /api/v1/products/:id
func (h *ProductHandlers) GetProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.productRepo.GetProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get product: " + err.Error()})
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

// @Summary      Create product
// @Description  Creates a new billable product. Setting article_number links it to an existing provider article. Requires the admin role.
// @Tags         Products
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  models.ProductInput  true  "Product fields"
// @Success      201  {object}  map[string]interface{}  "product"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/products [post]
// CreateProduct creates a product
// POST /api/v1/products
func (h *ProductHandlers) CreateProduct(c *gin.Context) {
	var input models.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product := &models.Product{
		Name:          input.Name,
		Unit:          input.Unit,
		Price:         input.Price,
		VATRate:       input.VATRate,
		ArticleNumber: input.ArticleNumber,
	}
	if err := h.productRepo.CreateProduct(c.Request.Context(), product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// @Summary      Update product
// @Description  Updates a product's editable fields. The provider article number is managed by the export pipeline. Requires the admin role.
// @Tags         Products
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Product ID"
// @Param        body  body  models.ProductInput  true  "Product fields"
// @Success      200  {object}  map[string]interface{}  "product"
// @Failure      400  {object}  map[string]interface{}  "Invalid ID or request body"
// @Failure      404  {object}  map[string]interface{}  "Product not found"
// @Failure      409  {object}  map[string]interface{}  "Product has been deleted"
// @Router       /api/v1/products/{id} [put]
// UpdateProduct updates a product
// PUT /api/v1/products/:id
func (h *ProductHandlers) UpdateProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var input models.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.productRepo.GetProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get product: " + err.Error()})
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if product.Deleted() {
		c.JSON(http.StatusConflict, gin.H{"error": "Product has been deleted"})
		return
	}

	product.Name = input.Name
	product.Unit = input.Unit
	product.Price = input.Price
	product.VATRate = input.VATRate

	if err := h.productRepo.UpdateProduct(c.Request.Context(), product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

// @Summary      Delete product
// @Description  Soft-deletes a product. Existing time entries keep their reference; new entries and exports must not use it. Requires the admin role.
// @Tags         Products
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Product ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid product ID"
// @Failure      404  {object}  map[string]interface{}  "Product not found"
// @Router       /api/v1/products/{id} [delete]
// DeleteProduct soft-deletes a product
// DELETE /api/v1/products/:id
func (h *ProductHandlers) DeleteProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.productRepo.GetProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get product: " + err.Error()})
		return
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	if err := h.productRepo.DeleteProduct(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
