package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/planner/core/planner"
	exportsvc "github.com/trezcool/planner/services/export"
)

type plannerApi struct {
	store    *planner.Store
	validate *validator.Validate
}

func registerPlannerAPI(g *echo.Group, jwt, session echo.MiddlewareFunc, deps ServerDeps) {
	api := plannerApi{
		store:    deps.Store,
		validate: deps.Validate,
	}

	pg := g.Group("/planner", jwt, session)
	pg.GET("/catalog", api.catalog)
	pg.GET("/status", api.status)
	pg.GET("/classes", api.queryClasses)
	pg.POST("/classes", api.createClass)

	// class endpoints
	cg := pg.Group("/classes/:classID")
	cg.GET("", api.retrieveClass)
	cg.POST("/students", api.addStudent)
	cg.POST("/students/:studentID/statuses/:status", api.toggleStatus)
	cg.GET("/attendance/:date", api.dayAttendance)
	cg.PUT("/attendance/:date/:studentID", api.setAttendance)
	cg.GET("/attendance.xlsx", api.exportAttendance)
}

// Handlers

func (api *plannerApi) catalog(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, planner.Catalog())
}

func (api *plannerApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.store.Status())
}

func (api *plannerApi) queryClasses(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.store.Classes())
}

func (api *plannerApi) createClass(ctx echo.Context) error {
	var data planner.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}

	class, err := api.store.AddClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "adding class")
	}
	return ctx.JSON(http.StatusCreated, class)
}

func (api *plannerApi) retrieveClass(ctx echo.Context) error {
	class, err := api.store.Class(ctx.Param("classID"))
	if err != nil {
		return errors.Wrap(err, "finding class")
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *plannerApi) addStudent(ctx echo.Context) error {
	var data planner.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}

	student, err := api.store.AddStudent(ctx.Request().Context(), ctx.Param("classID"), data)
	if err != nil {
		return errors.Wrap(err, "adding student")
	}
	return ctx.JSON(http.StatusCreated, student)
}

func (api *plannerApi) toggleStatus(ctx echo.Context) error {
	student, err := api.store.ToggleStatus(
		ctx.Request().Context(),
		ctx.Param("classID"),
		ctx.Param("studentID"),
		ctx.Param("status"),
	)
	if err != nil {
		return errors.Wrap(err, "toggling status")
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *plannerApi) dayAttendance(ctx echo.Context) error {
	date, err := planner.ParseDate(ctx.Param("date"))
	if err != nil {
		return err
	}
	day, err := api.store.AttendanceOn(ctx.Param("classID"), date)
	if err != nil {
		return errors.Wrap(err, "reading attendance")
	}
	return ctx.JSON(http.StatusOK, DayAttendanceResponse{Date: date, Attendance: day})
}

func (api *plannerApi) setAttendance(ctx echo.Context) error {
	var data AttendanceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}
	data.Clean()

	date, err := planner.ParseDate(ctx.Param("date"))
	if err != nil {
		return err
	}
	classID, studentID := ctx.Param("classID"), ctx.Param("studentID")
	reqCtx := ctx.Request().Context()

	status := data.Status
	if data.Toggle {
		status, err = api.store.ToggleAttendance(reqCtx, classID, studentID, date, data.Status)
	} else {
		err = api.store.SetAttendance(reqCtx, classID, studentID, date, data.Status)
	}
	if err != nil {
		return errors.Wrap(err, "setting attendance")
	}
	return ctx.JSON(http.StatusOK, AttendanceResponse{StudentID: studentID, Date: date, Status: status})
}

func (api *plannerApi) exportAttendance(ctx echo.Context) error {
	class, err := api.store.Class(ctx.Param("classID"))
	if err != nil {
		return errors.Wrap(err, "finding class")
	}

	var buf bytes.Buffer
	if err := exportsvc.WriteAttendance(&buf, class); err != nil {
		return errors.Wrap(err, "exporting attendance")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", exportsvc.Filename(class)))
	return ctx.Blob(http.StatusOK, exportsvc.XLSXContentType, buf.Bytes())
}
