package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	echo "github.com/labstack/echo/v4"
)

// writeError maps settlement errors to status codes.
func writeError(c echo.Context, err error) error {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":     err.Error(),
			"storeId":   short.StoreID,
			"productId": short.ProductID,
			"current":   short.Current,
			"requested": short.Requested,
		})
	case errors.Is(err, inventory.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, inventory.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, inventory.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, inventory.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		c.Logger().Errorf("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// pageParams reads ?page&size; absent values fall back to page 0 and the
// default size.
func pageParams(c echo.Context) (page, size int, err error) {
	size = inventory.DefaultPageSize
	if err := echo.QueryParamsBinder(c).
		Int("page", &page).
		Int("size", &size).
		BindError(); err != nil {
		return 0, 0, err
	}
	if page < 0 || size < 1 || size > inventory.MaxPageSize {
		return 0, 0, errors.New("page must be >= 0 and size within 1..1000")
	}
	return page, size, nil
}

type quantityBody struct {
	Quantity *int `json:"quantity"`
}

type echoBody struct {
	Message string `json:"message"`
}
