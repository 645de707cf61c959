package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func bindGroupKey(ctx echo.Context) student.GroupKey {
	return student.GroupKey{
		Center:    ctx.QueryParam("center"),
		Grade:     ctx.QueryParam("grade"),
		GradeType: ctx.QueryParam("grade_type"),
		GroupTime: ctx.QueryParam("group_time"),
	}
}

func bindSession(ctx echo.Context) attendance.Session {
	return attendance.Session{Group: bindGroupKey(ctx), Date: ctx.QueryParam("date")}
}

func parseBoolParam(ctx echo.Context, name string) (*bool, error) {
	val := core.CleanString(ctx.QueryParam(name))
	if val == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: name, Error: "must be true or false"})
	}
	return &b, nil
}

func parseIntParam(ctx echo.Context, name string) (*int, error) {
	val := core.CleanString(ctx.QueryParam(name))
	if val == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: name, Error: "must be a number"})
	}
	return &i, nil
}

func bindRecordFilter(ctx echo.Context) (*attendance.QueryFilter, error) {
	key := bindGroupKey(ctx)
	filter := &attendance.QueryFilter{
		Center:    key.Center,
		Grade:     key.Grade,
		GradeType: key.GradeType,
		GroupTime: key.GroupTime,
		From:      ctx.QueryParam("from"),
		To:        ctx.QueryParam("to"),
	}
	var err error
	filter.IsFinalized, err = parseBoolParam(ctx, "is_finalized")
	return filter, err
}

func bindStudentFilter(ctx echo.Context) (*student.QueryFilter, error) {
	key := bindGroupKey(ctx)
	filter := &student.QueryFilter{
		Search:    ctx.QueryParam("search"),
		Center:    key.Center,
		Grade:     key.Grade,
		GradeType: key.GradeType,
		GroupTime: key.GroupTime,
	}
	var err error
	filter.MinAbsences, err = parseIntParam(ctx, "min_absences")
	filter.Clean()
	return filter, err
}
