package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univent/timetable-api/internal/service"
	appErrors "github.com/univent/timetable-api/pkg/errors"
	"github.com/univent/timetable-api/pkg/response"
)

// AvailabilityHandler answers "is this resource free" queries against a
// timetable without mutating it.
type AvailabilityHandler struct {
	service *service.AvailabilityService
}

func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

func slotFromQuery(c *gin.Context) service.SlotRequest {
	return service.SlotRequest{
		Day:   c.Query("day"),
		Start: c.Query("start"),
		End:   c.Query("end"),
	}
}

// CheckVenue godoc
// @Summary Check venue availability in a slot
// @Tags Availability
// @Produce json
// @Param id path string true "Timetable ID"
// @Param venueId path string true "Venue ID"
// @Param day query string true "Weekday, e.g. MONDAY"
// @Param start query string true "Start time HH:MM"
// @Param end query string true "End time HH:MM"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/availability/venues/{venueId} [get]
func (h *AvailabilityHandler) CheckVenue(c *gin.Context) {
	result, err := h.service.CheckVenue(c.Request.Context(), c.Param("id"), c.Param("venueId"), slotFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CheckFaculty godoc
// @Summary Check faculty availability in a slot
// @Tags Availability
// @Produce json
// @Param id path string true "Timetable ID"
// @Param facultyId path string true "Faculty ID"
// @Param day query string true "Weekday, e.g. MONDAY"
// @Param start query string true "Start time HH:MM"
// @Param end query string true "End time HH:MM"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/availability/faculty/{facultyId} [get]
func (h *AvailabilityHandler) CheckFaculty(c *gin.Context) {
	if c.Param("facultyId") == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "faculty id is required"))
		return
	}
	result, err := h.service.CheckFaculty(c.Request.Context(), c.Param("id"), c.Param("facultyId"), slotFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
