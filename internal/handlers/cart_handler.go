package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/auth"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

func registerCartRoutes(rg *gin.RouterGroup, h *handler) {
	rg.GET("/cart", h.getCart)
	rg.POST("/cart", h.addCartItem)
	rg.DELETE("/cart", h.clearCart)
	rg.PUT("/cart/items/:itemId", h.updateCartItem)
	rg.DELETE("/cart/items/:itemId", h.removeCartItem)
}

func (h *handler) getCart(c *gin.Context) {
	view, err := h.cfg.Carts.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) addCartItem(c *gin.Context) {
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	view, err := h.cfg.Carts.AddItem(c.Request.Context(), auth.UserID(c), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) updateCartItem(c *gin.Context) {
	var req validation.UpdateCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	view, err := h.cfg.Carts.UpdateItemQuantity(c.Request.Context(), auth.UserID(c), c.Param("itemId"), req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) removeCartItem(c *gin.Context) {
	view, err := h.cfg.Carts.RemoveItem(c.Request.Context(), auth.UserID(c), c.Param("itemId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) clearCart(c *gin.Context) {
	view, err := h.cfg.Carts.Clear(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
