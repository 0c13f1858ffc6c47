package server

import (
	"github.com/RitwikMittal/KeraRoutes/internal/config"
	"github.com/RitwikMittal/KeraRoutes/internal/mode"
	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

type segmentRequest struct {
	Points []geo.Point `json:"points"`
}

type segmentResponse struct {
	Segments []mode.Segment `json:"segments"`
	Count    int            `json:"count"`
}

// registerSegmentRoutes exposes offline stop-based segmentation of finalized
// trip chains, used by the survey team for labeling and quality checks.
func registerSegmentRoutes(r fiber.Router, cfg config.Config) {
	r.Post("/segment", func(c *fiber.Ctx) error {
		var req segmentRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		segments := mode.SplitSegments(req.Points, cfg.StopThreshold())
		return c.JSON(segmentResponse{Segments: segments, Count: len(segments)})
	})
}
