package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/septivank/appliance-telemetry/internal/query"
	"github.com/septivank/appliance-telemetry/internal/repository"
)

type writeResponse struct {
	Inserted bool `json:"inserted"`
	Data     any  `json:"data"`
}

// GetLatestHistorical answers {"0": record} or {} when the appliance has
// not reported yet.
func (s *Server) GetLatestHistorical(c *gin.Context) {
	name := applianceParam(c)

	view, found, err := s.queries.LatestHistorical(c.Request.Context(), name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := indexedObject[query.HistoricalView]{}
	if found {
		resp = append(resp, *view)
	}
	c.JSON(http.StatusOK, resp)
}

// GetPeriodicHistory answers every periodic record keyed by its position,
// ascending unless ?order=desc.
func (s *Server) GetPeriodicHistory(c *gin.Context) {
	name := applianceParam(c)

	order, ok := repository.ParseOrder(strings.TrimSpace(c.Query("order")))
	if !ok {
		AbortWithError(c, ErrInvalidOrder)
		return
	}

	views, err := s.queries.PeriodicHistory(c.Request.Context(), name, order)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, indexedObject[query.PeriodicView](views))
}

// PutHistorical stores a complete historical record: 201 when new, 200
// when the key already existed.
func (s *Server) PutHistorical(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inserted, view, err := s.queries.WriteHistorical(c.Request.Context(), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(writeStatus(inserted), writeResponse{Inserted: inserted, Data: view})
}

// PutPeriodic stores a complete periodic record with the same status
// rules as PutHistorical.
func (s *Server) PutPeriodic(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inserted, view, err := s.queries.WritePeriodic(c.Request.Context(), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(writeStatus(inserted), writeResponse{Inserted: inserted, Data: view})
}

// ListApplianceNames answers {"appliance_names": [...]}.
func (s *Server) ListApplianceNames(c *gin.Context) {
	names, err := s.queries.ApplianceNames(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appliance_names": names})
}

// ListAvailableDates answers {"dates": [...]}, newest first.
func (s *Server) ListAvailableDates(c *gin.Context) {
	dates, err := s.queries.AvailableDates(c.Request.Context(), applianceParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates})
}

// Health reports 503 when the store is unreachable. The broker connection
// is informational only.
func (s *Server) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "database": "ok"}
	status := http.StatusOK

	if err := s.queries.Health(c.Request.Context()); err != nil {
		resp["status"] = "unavailable"
		resp["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.broker != nil {
		if s.broker.Connected() {
			resp["broker"] = "connected"
		} else {
			resp["broker"] = "disconnected"
		}
	}

	c.JSON(status, resp)
}

func applianceParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("appliance_name"))
}

func writeStatus(inserted bool) int {
	if inserted {
		return http.StatusCreated
	}
	return http.StatusOK
}
