package httpapi

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/climate-crop-forecast/internal/climate"
	"github.com/i474232898/climate-crop-forecast/internal/forecast"
	"github.com/i474232898/climate-crop-forecast/internal/geo"
	"github.com/i474232898/climate-crop-forecast/internal/metrics"
	"github.com/i474232898/climate-crop-forecast/internal/store"
)

var validate = validator.New()

// Options configures the routes.
type Options struct {
	// MaxAreaKm2 is the polygon size above which the area endpoint warns.
	MaxAreaKm2 float64
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *forecast.Service, opts Options) {
	v1 := app.Group("/api/v1")

	v1.Get("/crops", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"crops": service.Crops(),
		})
	})

	v1.Post("/geometry/area", func(c *fiber.Ctx) error {
		g, err := geo.Parse(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		km2 := geo.ApproxAreaKm2(g)
		return c.JSON(fiber.Map{
			"type":         g.Kind(),
			"area_deg2":    geo.Area(g),
			"area_km2":     km2,
			"max_area_km2": opts.MaxAreaKm2,
			"warning":      opts.MaxAreaKm2 > 0 && km2 > opts.MaxAreaKm2,
		})
	})

	v1.Post("/forecasts", func(c *fiber.Ctx) error {
		var req forecastRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		g, err := geo.Parse(req.Geometry)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		// Fiber does not signal client disconnects; a synchronous forecast
		// runs until it finishes, RUN_TIMEOUT elapses or the service shuts down.
		if c.QueryBool("wait") {
			prediction := service.Predict(c.UserContext(), g, req.Accuracy, nil)
			return c.Status(statusForResult(prediction.Result)).JSON(prediction)
		}

		run, err := service.Start(g, req.Accuracy)
		if err != nil {
			switch {
			case geo.IsInvalid(err), errors.Is(err, climate.ErrInvalidAccuracy):
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			case errors.Is(err, store.ErrFull):
				return fiber.NewError(fiber.StatusServiceUnavailable, "too many forecasts in progress")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start forecast")
		}

		c.Location("/api/v1/forecasts/" + run.ID)
		return c.Status(fiber.StatusAccepted).JSON(run)
	})

	// Summaries only; the full result is served by /forecasts/:id.
	v1.Get("/forecasts", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"runs": service.ListRuns(),
		})
	})

	v1.Get("/forecasts/:id", func(c *fiber.Ctx) error {
		run, err := service.GetRun(c.Params("id"))
		if err != nil {
			return runError(err)
		}
		return c.JSON(run)
	})

	v1.Delete("/forecasts/:id", func(c *fiber.Ctx) error {
		run, err := service.CancelRun(c.Params("id"))
		if err != nil {
			if errors.Is(err, forecast.ErrRunFinished) {
				return fiber.NewError(fiber.StatusConflict, "forecast already finished")
			}
			return runError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(run)
	})
}

// forecastRequest is the body of POST /forecasts.
type forecastRequest struct {
	Geometry json.RawMessage `json:"geometry" validate:"required"`
	Accuracy int             `json:"accuracy" validate:"required,min=1,max=12"`
}

func runError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "forecast not found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch forecast")
}

// statusForResult maps a synchronous result to its HTTP status.
func statusForResult(res forecast.Result) int {
	switch res.FailureKind {
	case "":
		return fiber.StatusOK
	case forecast.FailureInvalidRequest:
		return fiber.StatusBadRequest
	case forecast.FailureTimeout:
		return fiber.StatusGatewayTimeout
	case forecast.FailureCancelled:
		return fiber.StatusServiceUnavailable
	case forecast.FailureInsufficientSuccess, forecast.FailureInsufficientData, forecast.FailureMisalignedSeries:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every handler error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// Metrics counts requests by matched route, method and final status.
func Metrics(m *metrics.Collector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				status = e.Code
			}
		}
		m.RecordAPIRequest(c.Route().Path, c.Method(), strconv.Itoa(status))
		return err
	}
}
