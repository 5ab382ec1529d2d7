package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	echo "github.com/labstack/echo/v4"
)

// Disconnector is anything a store can cut off to simulate a partition.
type Disconnector interface {
	SetDisconnected(bool)
}

func storeRoutes(e *echo.Echo, svc *inventory.Store, links []Disconnector) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Store Server "+svc.ID()+": OK")
	})
	e.POST("/connected", setConnected(links, false))
	e.POST("/disconnected", setConnected(links, true))

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

	e.GET("/inventory/:productId", func(c echo.Context) error {
		it, err := svc.GetItem(c.Request().Context(), c.Param("productId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, it)
	})

	e.POST("/inventory", func(c echo.Context) error {
		var body struct {
			ProductID string `json:"productId"`
		}
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid json")
		}
		body.ProductID = strings.TrimSpace(body.ProductID)
		if body.ProductID == "" {
			return badRequest(c, "productId is required")
		}
		it, err := svc.CreateItem(c.Request().Context(), body.ProductID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, it)
	})

	e.PUT("/inventory/:productId", func(c echo.Context) error {
		var body quantityBody
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid json")
		}
		if body.Quantity == nil || *body.Quantity < 0 {
			return badRequest(c, "quantity must be >= 0")
		}
		if _, err := svc.SetQuantity(c.Request().Context(), c.Param("productId"), *body.Quantity); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	e.POST("/purchase/:productId", func(c echo.Context) error {
		var body quantityBody
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid json")
		}
		if body.Quantity == nil || *body.Quantity < 1 {
			return badRequest(c, "quantity must be >= 1")
		}
		it, err := svc.PurchaseLocal(c.Request().Context(), c.Param("productId"), *body.Quantity)
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
		ev, err := svc.Echo(c.Request().Context(), body.Message)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"id": ev.ID, "stream": ev.Stream})
	})
}

func setConnected(links []Disconnector, disconnected bool) echo.HandlerFunc {
	msg := "Connected"
	if disconnected {
		msg = "Disconnected"
	}
	return func(c echo.Context) error {
		for _, l := range links {
			l.SetDisconnected(disconnected)
		}
		return c.String(http.StatusOK, msg)
	}
}
