package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univent/timetable-api/internal/service"
	appErrors "github.com/univent/timetable-api/pkg/errors"
	"github.com/univent/timetable-api/pkg/response"
)

// EntryHandler manages schedule entry mutations on a timetable.
type EntryHandler struct {
	service *service.TimetableService
}

func NewEntryHandler(svc *service.TimetableService) *EntryHandler {
	return &EntryHandler{service: svc}
}

// Add godoc
// @Summary Add a schedule entry
// @Description Rejects with 409 and the conflict list when the entry would double-book a venue or faculty member.
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param payload body service.AddEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/entries [post]
func (h *EntryHandler) Add(c *gin.Context) {
	var req service.AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.AddEntry(c.Request.Context(), c.Param("id"), req, authorityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// AddForced godoc
// @Summary Force-add a schedule entry despite conflicts
// @Description Admin only. Conflicts are attached to the entry as warnings instead of blocking it.
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param payload body service.AddEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Router /timetables/{id}/entries/force [post]
func (h *EntryHandler) AddForced(c *gin.Context) {
	var req service.AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.AddEntryForced(c.Request.Context(), c.Param("id"), req, authorityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Remove godoc
// @Summary Remove a schedule entry
// @Description Soft delete. The entry stays in history but no longer occupies its slot.
// @Tags Entries
// @Produce json
// @Param id path string true "Timetable ID"
// @Param entryId path string true "Entry ID"
// @Success 204
// @Router /timetables/{id}/entries/{entryId} [delete]
func (h *EntryHandler) Remove(c *gin.Context) {
	err := h.service.RemoveEntry(c.Request.Context(), c.Param("id"), c.Param("entryId"), authorityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Move godoc
// @Summary Move a schedule entry to a new slot
// @Description Atomic. On conflict the entry keeps its original slot and the conflict list is returned.
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param entryId path string true "Entry ID"
// @Param payload body service.MoveEntryRequest true "New slot"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/entries/{entryId}/move [post]
func (h *EntryHandler) Move(c *gin.Context) {
	var req service.MoveEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.MoveEntry(c.Request.Context(), c.Param("id"), c.Param("entryId"), req, authorityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
