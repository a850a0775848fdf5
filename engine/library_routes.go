package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/elibrary/library"
)

// GetGrades lists the grades of the catalog
// @Summary List grades
// @Tags Library
// @Produce json
// @Success 200 {array} int "Grade numbers"
// @Router /library/grades [get]
func (serverHandler *ServerHandler) GetGrades(c echo.Context) error {
	return c.JSON(http.StatusOK, serverHandler.Library.Catalog.GradeNumbers())
}

// GetQuarters lists the quarters of a grade with their display names
// @Summary List quarters of a grade
// @Tags Library
// @Produce json
// @Param grade path int true "Grade"
// @Success 200 {array} map[string]interface{} "Quarters"
// @Failure 400 {object} map[string]interface{} "Invalid grade"
// @Router /library/grades/{grade}/quarters [get]
func (serverHandler *ServerHandler) GetQuarters(c echo.Context) error {
	grade, err := strconv.Atoi(c.Param("grade"))
	if err != nil || !serverHandler.hasGrade(grade) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid grade",
		})
	}
	quarters := []map[string]interface{}{}
	for _, q := range serverHandler.Library.Catalog.Quarters() {
		quarters = append(quarters, map[string]interface{}{
			"quarter": q,
			"name":    library.QuarterNames[q-1] + " Quarter",
		})
	}
	return c.JSON(http.StatusOK, quarters)
}

// GetSubjects lists the subjects taught in a grade and quarter
// @Summary List subjects
// @Tags Library
// @Produce json
// @Param grade path int true "Grade"
// @Param quarter path int true "Quarter (1-4)"
// @Success 200 {array} string "Subjects"
// @Failure 400 {object} map[string]interface{} "Invalid grade or quarter"
// @Router /library/grades/{grade}/quarters/{quarter}/subjects [get]
func (serverHandler *ServerHandler) GetSubjects(c echo.Context) error {
	grade, gradeErr := strconv.Atoi(c.Param("grade"))
	quarter, quarterErr := strconv.Atoi(c.Param("quarter"))
	if gradeErr != nil || quarterErr != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Grade and quarter must be numbers",
		})
	}
	subjects, err := serverHandler.Library.Catalog.Subjects(grade, quarter)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, subjects)
}

// GetWeeks lists the week numbers
// @Summary List weeks
// @Tags Library
// @Produce json
// @Success 200 {array} int "Week numbers"
// @Router /library/weeks [get]
func (serverHandler *ServerHandler) GetWeeks(c echo.Context) error {
	return c.JSON(http.StatusOK, serverHandler.Library.Catalog.WeekNumbers())
}

// GetFiles lists the slide decks and documents of one week folder
// @Summary List files of a week
// @Tags Library
// @Produce json
// @Param grade query int true "Grade"
// @Param quarter query int true "Quarter (1-4)"
// @Param subject query string true "Subject"
// @Param week query int true "Week"
// @Success 200 {object} map[string]interface{} "Title and files"
// @Failure 400 {object} map[string]interface{} "Invalid location"
// @Router /library/files [get]
func (serverHandler *ServerHandler) GetFiles(c echo.Context) error {
	loc, err := locationFromValues(c.QueryParam("grade"), c.QueryParam("quarter"), c.QueryParam("subject"), c.QueryParam("week"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	files, err := serverHandler.Library.ListFiles(loc)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrInvalidLocation) {
			status = http.StatusBadRequest
		} else {
			Logger.Error("Failed to list files", "location", loc.Title(), "error", err)
		}
		return c.JSON(status, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"title":    loc.Title(),
		"location": loc,
		"files":    files,
	})
}

func (serverHandler *ServerHandler) hasGrade(grade int) bool {
	for _, g := range serverHandler.Library.Catalog.GradeNumbers() {
		if g == grade {
			return true
		}
	}
	return false
}

// locationFromValues parses the numeric parts of a location, the catalog checks happen later
func locationFromValues(grade, quarter, subject, week string) (library.Location, error) {
	var loc library.Location
	var err error
	if loc.Grade, err = strconv.Atoi(grade); err != nil {
		return loc, errors.New("grade must be a number")
	}
	if loc.Quarter, err = strconv.Atoi(quarter); err != nil {
		return loc, errors.New("quarter must be a number")
	}
	if loc.Week, err = strconv.Atoi(week); err != nil {
		return loc, errors.New("week must be a number")
	}
	if subject == "" {
		return loc, errors.New("subject is required")
	}
	loc.Subject = subject
	return loc, nil
}
