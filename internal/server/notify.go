package server

import (
	"github.com/RitwikMittal/KeraRoutes/internal/live"

	"github.com/gofiber/fiber/v2"
)

// Notify hooks let the trip and food persistence services trigger dashboard
// broadcasts after a record is finalized. Payloads are anonymized and
// filtered here; the records themselves never pass through this engine.

type tripCompletedRequest struct {
	UserID          string   `json:"user_id"`
	Purpose         string   `json:"trip_purpose"`
	TotalCost       float64  `json:"total_cost"`
	TotalDistanceKm float64  `json:"total_distance_km"`
	DurationMinutes float64  `json:"total_duration_minutes"`
	ModesUsed       []string `json:"modes_used"`
}

type foodEntryRequest struct {
	UserID         string  `json:"user_id"`
	CuisineType    string  `json:"cuisine_type"`
	MealType       string  `json:"meal_type"`
	TotalCost      float64 `json:"total_cost"`
	RestaurantType string  `json:"establishment_type"`
}

func registerNotifyRoutes(r fiber.Router, reg *live.Registry) {
	r.Post("/trip-completed", func(c *fiber.Ctx) error {
		var req tripCompletedRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.UserID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}

		reg.BroadcastTripCompleted(req.UserID, map[string]any{
			"purpose":          req.Purpose,
			"total_cost":       req.TotalCost,
			"total_distance":   req.TotalDistanceKm,
			"modes_used":       req.ModesUsed,
			"duration_minutes": req.DurationMinutes,
		})
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/food-entry", func(c *fiber.Ctx) error {
		var req foodEntryRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.UserID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}

		reg.BroadcastFoodEntry(req.UserID, map[string]any{
			"cuisine_type":    req.CuisineType,
			"meal_type":       req.MealType,
			"total_cost":      req.TotalCost,
			"restaurant_type": req.RestaurantType,
		})
		return c.SendStatus(fiber.StatusAccepted)
	})
}
