package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/attendance"
)

type attendanceApi struct {
	svc      *attendance.Service
	validate *validator.Validate
}

// resultResponse exposes the best-effort failures of a committed change.
type resultResponse struct {
	attendance.Result
	Warnings []string `json:"warnings,omitempty"`
}

func newResultResponse(res attendance.Result) resultResponse {
	return resultResponse{Result: res, Warnings: res.Warnings()}
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *attendance.Service, validate *validator.Validate) {
	api := attendanceApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/attendance", jwt)
	ag.GET("", api.retrieve)
	ag.GET("/report", api.report)
	ag.GET("/records", api.query)
	ag.POST("/mark", api.mark)
	ag.POST("/remove", api.remove)
	ag.POST("/finalize", api.finalize, roleMiddleware(RoleAdmin))
}

// Handlers

func (api *attendanceApi) mark(ctx echo.Context) error {
	var data attendance.MarkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.MarkAttendance(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, newResultResponse(res))
}

func (api *attendanceApi) remove(ctx echo.Context) error {
	var data attendance.RemoveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RemoveRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.RemoveAttendance(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "removing attendance")
	}
	return ctx.JSON(http.StatusOK, newResultResponse(res))
}

func (api *attendanceApi) finalize(ctx echo.Context) error {
	var data attendance.FinalizeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FinalizeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.FinalizeAttendance(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "finalizing attendance")
	}
	return ctx.JSON(http.StatusOK, newResultResponse(res))
}

func (api *attendanceApi) retrieve(ctx echo.Context) error {
	sess := bindSession(ctx)
	if err := sess.Validate(api.validate); err != nil {
		return err
	}

	snap, err := api.svc.GetRecord(ctx.Request().Context(), sess)
	if err != nil {
		return errors.Wrap(err, "getting attendance record")
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *attendanceApi) report(ctx echo.Context) error {
	sess := bindSession(ctx)
	if err := sess.Validate(api.validate); err != nil {
		return err
	}

	report, err := api.svc.Report(ctx.Request().Context(), sess)
	if err != nil {
		return errors.Wrap(err, "building attendance report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *attendanceApi) query(ctx echo.Context) error {
	filter, err := bindRecordFilter(ctx)
	if err != nil {
		return err
	}
	if err = filter.Validate(api.validate); err != nil {
		return err
	}
	var ordering Ordering
	ordering.Bind(ctx)

	snaps, err := api.svc.QueryRecords(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying attendance records")
	}
	return ctx.JSON(http.StatusOK, snaps)
}
