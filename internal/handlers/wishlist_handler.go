package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/auth"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

func registerWishlistRoutes(rg *gin.RouterGroup, h *handler) {
	rg.GET("/wishlist", h.listWishlist)
	rg.POST("/wishlist", h.addToWishlist)
	rg.POST("/wishlist/move-to-cart", h.moveToCart)
	rg.DELETE("/wishlist/:itemId", h.removeFromWishlist)
}

func (h *handler) listWishlist(c *gin.Context) {
	items, err := h.cfg.Wishlist.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *handler) addToWishlist(c *gin.Context) {
	var req validation.WishlistRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	it, err := h.cfg.Wishlist.Add(c.Request.Context(), auth.UserID(c), req.ProductID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *handler) moveToCart(c *gin.Context) {
	var req validation.WishlistRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	view, err := h.cfg.Wishlist.MoveToCart(c.Request.Context(), auth.UserID(c), req.ProductID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) removeFromWishlist(c *gin.Context) {
	if err := h.cfg.Wishlist.Remove(c.Request.Context(), auth.UserID(c), c.Param("itemId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
