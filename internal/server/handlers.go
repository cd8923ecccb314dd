package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/store"
)

// isoMillis matches the timestamp shape browsers produce for Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DevicesResponse is the body of GET /api/devices.
type DevicesResponse struct {
	Error      string          `json:"error,omitempty"`
	Devices    []device.Device `json:"devices"`
	Categories []string        `json:"categories"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(isoMillis),
		"version":   s.cfg.Version,
	})
}

func (s *Server) listDevices(c *gin.Context) {
	devices, err := s.load(c)
	if err != nil {
		log.Error().Err(err).Msg("error reading devices")
		c.JSON(http.StatusInternalServerError, DevicesResponse{
			Error:      "Failed to load devices",
			Devices:    []device.Device{},
			Categories: []string{},
		})
		return
	}

	categories := device.Categories(devices)
	q := strings.TrimSpace(c.Query("q"))
	category := strings.TrimSpace(c.Query("category"))
	if q != "" || category != "" {
		devices = device.Filter(devices, q, category)
	}
	if devices == nil {
		devices = []device.Device{}
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices, Categories: categories})
}

// load reads the snapshot, scraping once when none exists yet and the server
// is allowed to.
func (s *Server) load(c *gin.Context) ([]device.Device, error) {
	if s.devices == nil {
		return nil, store.ErrNoSnapshot
	}
	devices, err := s.devices.Load()
	if !errors.Is(err, store.ErrNoSnapshot) || !s.cfg.ScrapeOnMiss || s.refresher == nil {
		return devices, err
	}
	log.Info().Msg("no snapshot yet; scraping")
	res, err := s.refresher.Run(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return res.Devices, nil
}
