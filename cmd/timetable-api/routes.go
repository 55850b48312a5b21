package main

import (
	"github.com/gin-gonic/gin"

	"github.com/univent/timetable-api/internal/handler"
	internalmiddleware "github.com/univent/timetable-api/internal/middleware"
	"github.com/univent/timetable-api/internal/models"
	"github.com/univent/timetable-api/internal/service"
	"github.com/univent/timetable-api/pkg/config"
)

func registerRoutes(
	r *gin.Engine,
	cfg *config.Config,
	tokens *service.TokenService,
	timetables *handler.TimetableHandler,
	entries *handler.EntryHandler,
	availability *handler.AvailabilityHandler,
) {
	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokens))

	schedulers := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler)
	admins := internalmiddleware.RequireRoles(models.RoleAdmin)

	tt := api.Group("/timetables")
	{
		tt.POST("", schedulers, timetables.Create)
		tt.GET("", timetables.List)
		tt.GET("/:id", timetables.Get)

		tt.POST("/:id/entries", schedulers, entries.Add)
		tt.POST("/:id/entries/force", admins, entries.AddForced)
		tt.DELETE("/:id/entries/:entryId", schedulers, entries.Remove)
		tt.POST("/:id/entries/:entryId/move", schedulers, entries.Move)

		tt.GET("/:id/conflicts", timetables.Conflicts)
		tt.POST("/:id/conflicts/:conflictRef/resolve", schedulers, timetables.ResolveConflict)

		tt.POST("/:id/publish", schedulers, timetables.Publish)
		tt.POST("/:id/unpublish", schedulers, timetables.Unpublish)
		tt.POST("/:id/archive", admins, timetables.Archive)

		tt.GET("/:id/audit", admins, timetables.Audit)

		tt.GET("/:id/export", timetables.Export)

		tt.GET("/:id/availability/venues/:venueId", availability.CheckVenue)
		tt.GET("/:id/availability/faculty/:facultyId", availability.CheckFaculty)
	}

	// Signed downloads carry their own token, no JWT required.
	r.GET(cfg.APIPrefix+"/exports/:token", timetables.Download)
}
