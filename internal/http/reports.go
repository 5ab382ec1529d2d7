package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listEventsHandler(journal repository.EventJournal) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.JournalFilter{Limit: 50}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		f.Stream = strings.TrimSpace(c.QueryParam("stream"))
		if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
			if t, ok := model.ParseEventType(raw); ok {
				f.Type = t.String()
			}
		}

		rows, err := journal.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
