package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graffio/internal/model"
	"graffio/internal/storage/raster"
)

type errorResponse struct {
	Error string `json:"error"`
}

type attributionResponse struct {
	CanvasAddress model.Address `json:"canvas_address"`
	Index         uint64        `json:"index"`
	ArtistAddress model.Address `json:"artist_address"`
	DrawnAtSecs   uint64        `json:"drawn_at_secs"`
}

func root(c *gin.Context) {
	c.String(http.StatusOK, "graffio indexer api")
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getImage(c *gin.Context) {
	address, err := model.ParseAddress(strings.TrimSuffix(c.Param("address"), ".png"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid address"})
		return
	}
	data, err := s.pixels.CanvasPNG(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, raster.ErrCanvasNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "canvas not found"})
			return
		}
		s.logger.Error("render canvas", zap.String("canvas_address", address.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to render canvas"})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) getAttribution(c *gin.Context) {
	canvas, err := model.ParseAddress(c.Param("canvas"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid canvas address"})
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid pixel index"})
		return
	}
	a, ok, err := s.metadata.Attribution(c.Request.Context(), canvas, index)
	if err != nil {
		s.logger.Error("read attribution", zap.String("canvas_address", canvas.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read attribution"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "attribution not found"})
		return
	}
	c.JSON(http.StatusOK, attributionResponse{
		CanvasAddress: canvas,
		Index:         index,
		ArtistAddress: a.ArtistAddress,
		DrawnAtSecs:   a.DrawnAtSecs,
	})
}
