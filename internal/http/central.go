package http

import (
	"net/http"

	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	echo "github.com/labstack/echo/v4"
)

func centralRoutes(e *echo.Echo, svc *inventory.Central) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Central Server: OK")
	})

	e.GET("/inventory", func(c echo.Context) error {
		page, size, err := pageParams(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		items, err := svc.ListItems(c.Request().Context(), page, size)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, items)
	})

	e.GET("/inventory/:storeId/:productId", func(c echo.Context) error {
		it, err := svc.GetItem(c.Request().Context(), c.Param("storeId"), c.Param("productId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, it)
	})

	e.POST("/purchase/:storeId/:productId", func(c echo.Context) error {
		var body quantityBody
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid json")
		}
		if body.Quantity == nil || *body.Quantity < 1 {
			return badRequest(c, "quantity must be >= 1")
		}
		it, err := svc.PurchaseRemote(c.Request().Context(), c.Param("storeId"), c.Param("productId"), *body.Quantity)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, it)
	})

	e.POST("/echo", func(c echo.Context) error {
		var body echoBody
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid json")
		}
		ev, err := svc.Broadcast(c.Request().Context(), body.Message)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"id": ev.ID, "stream": ev.Stream})
	})
}
