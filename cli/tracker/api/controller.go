package api

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Controller struct {
	Handler *Handler
	Router  *gin.Engine
}

func NewController(handler *Handler) *Controller {
	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/healthz", handler.GetHealth)

	fleet := router.Group("/fleet")
	{
		fleet.GET("", handler.GetFleet)
		fleet.GET("/counts", handler.GetFleetCounts)
	}

	vehicles := router.Group("/vehicles")
	{
		vehicles.GET("/:imei", handler.GetVehicle)
		vehicles.GET("/:imei/trips", handler.GetVehicleTrips)
	}

	return &Controller{Handler: handler, Router: router}
}

// Run blocks serving the API on the given port.
func (c *Controller) Run(port int) error {
	return c.Router.Run(fmt.Sprintf(":%d", port))
}
