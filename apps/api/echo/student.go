package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
)

type studentApi struct {
	svc      *student.Service
	attSvc   *attendance.Service
	validate *validator.Validate
}

func registerStudentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *student.Service,
	attSvc *attendance.Service,
	validate *validator.Validate,
) {
	api := studentApi{
		svc:      svc,
		attSvc:   attSvc,
		validate: validate,
	}

	sg := g.Group("/students", jwt)
	sg.GET("", api.query)
	sg.POST("", api.create, roleMiddleware(RoleAdmin))

	// detail endpoints
	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("/group", api.assign, roleMiddleware(RoleAdmin))
	dg.PUT("/amount-remaining", api.updateAmountRemaining, roleMiddleware(RoleAdmin))
}

// Handlers

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering student")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *studentApi) query(ctx echo.Context) error {
	filter, err := bindStudentFilter(ctx)
	if err != nil {
		return err
	}
	var ordering Ordering
	ordering.Bind(ctx)

	students, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) assign(ctx echo.Context) error {
	var data student.AssignGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignGroup")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Assign(ctx.Request().Context(), ctx.Param("id"), data.Group)
	if err != nil {
		return errors.Wrap(err, "assigning student group")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) updateAmountRemaining(ctx echo.Context) error {
	var data student.UpdateAmountRemaining
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAmountRemaining")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	c := ctx.Request().Context()
	id := ctx.Param("id")
	if err := api.attSvc.UpdateRemainingBalance(c, id, data.AmountRemaining); err != nil {
		return errors.Wrap(err, "updating amount remaining")
	}
	s, err := api.svc.Get(c, id)
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ctx.JSON(http.StatusOK, s)
}
