package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/service"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/response"
)

// RegistrationHandler exposes enrollment lifecycle endpoints.
type RegistrationHandler struct {
	registrations *service.RegistrationService
	exports       *service.ExportService
	defaultTerm   string
	defaultYear   int
}

// NewRegistrationHandler constructs RegistrationHandler. The term defaults
// fill in schedule queries that omit term and year.
func NewRegistrationHandler(registrations *service.RegistrationService, exports *service.ExportService, defaultTerm string, defaultYear int) *RegistrationHandler {
	return &RegistrationHandler{
		registrations: registrations,
		exports:       exports,
		defaultTerm:   strings.ToUpper(defaultTerm),
		defaultYear:   defaultYear,
	}
}

// termFromQuery resolves term and year from the query string, falling back
// to the configured defaults.
func (h *RegistrationHandler) termFromQuery(c *gin.Context) (string, int, bool) {
	term := strings.ToUpper(c.Query("term"))
	if term == "" {
		term = h.defaultTerm
	}
	year := h.defaultYear
	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return "", 0, false
		}
		year = parsed
	}
	return term, year, term != "" && year > 0
}

// Enroll godoc
// @Summary Register for a section
// @Description Claims a seat; a full section waitlists instead
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Enroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	// Students register themselves; registrars may register anyone.
	if claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}
	detail, err := h.registrations.Enroll(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// BulkEnroll godoc
// @Summary Register for several sections at once
// @Description Each section is claimed independently; failures never roll back siblings
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.BulkEnrollRequest true "Bulk enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /registrations/bulk [post]
func (h *RegistrationHandler) BulkEnroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.BulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}
	results, err := h.registrations.BulkEnroll(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}

// Drop godoc
// @Summary Drop an enrollment
// @Tags Registrations
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations/{id} [delete]
func (h *RegistrationHandler) Drop(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollment, err := h.registrations.Drop(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// CheckEligibility godoc
// @Summary Preview a registration attempt
// @Description Advisory only; seats can vanish between preview and claim
// @Tags Registrations
// @Produce json
// @Param sectionId path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/eligibility/{sectionId} [get]
func (h *RegistrationHandler) CheckEligibility(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.registrations.CheckEligibility(c.Request.Context(), claims.UserID, c.Param("sectionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// List godoc
// @Summary List the current student's enrollments
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollments, err := h.registrations.ListEnrollments(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// WeeklySchedule godoc
// @Summary View the enrolled schedule on the weekly grid
// @Tags Registrations
// @Produce json
// @Param term query string false "Term (defaults to the configured term)"
// @Param year query int false "Year (defaults to the configured year)"
// @Success 200 {object} response.Envelope
// @Router /registrations/schedule [get]
func (h *RegistrationHandler) WeeklySchedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	term, year, ok := h.termFromQuery(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term and year are required"))
		return
	}
	grid, err := h.registrations.WeeklySchedule(c.Request.Context(), claims.UserID, term, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// ExportSchedule godoc
// @Summary Export the enrolled schedule
// @Description Renders the schedule as ICS, PDF or CSV; ICS requires term dates
// @Tags Registrations
// @Produce json
// @Param format query string true "Export format (ics, pdf, csv)"
// @Param term query string true "Term"
// @Param year query int true "Year"
// @Param termStart query string false "Term start date (YYYY-MM-DD), required for ics"
// @Param termEnd query string false "Term end date (YYYY-MM-DD), required for ics"
// @Success 200 {file} binary
// @Router /registrations/schedule/export [get]
func (h *RegistrationHandler) ExportSchedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	term, year, ok := h.termFromQuery(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term and year are required"))
		return
	}

	var dates service.TermDates
	if raw := c.Query("termStart"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			dates.Start = parsed
		}
	}
	if raw := c.Query("termEnd"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			dates.End = parsed
		}
	}

	result, err := h.exports.Schedule(c.Request.Context(), claims.UserID, term, year,
		service.ExportFormat(strings.ToLower(c.Query("format"))), dates)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
