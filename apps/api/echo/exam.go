package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
)

type examApi struct {
	svc    exam.Service
	usrSvc user.Service
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc exam.Service, usrSvc user.Service) {
	api := examApi{svc: svc, usrSvc: usrSvc}

	ag := g.Group("/attempts", jwt)
	ag.GET("", api.query)
	ag.GET("/:id", api.retrieve)
	ag.POST("/:id/submit", api.submit, studentMiddleware())
	ag.POST("/:id/grade", api.grade, staffMiddleware())

	qg := g.Group("/quizzes", jwt)
	qg.GET("/available", api.availableQuizzes, studentMiddleware())
	qg.POST("/:id/start", api.start, studentMiddleware())
	qg.GET("/:id/results", api.quizResults, staffMiddleware())

	g.GET("/students/:id/stats", api.studentStats, jwt)
}

func (api *examApi) availableQuizzes(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	quizzes, err := api.svc.AvailableQuizzes(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "querying available quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *examApi) start(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	started, err := api.svc.Start(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, started)
}

func (api *examApi) submit(ctx echo.Context) error {
	var data exam.SubmitAttempt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitAttempt")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	summary, err := api.svc.Submit(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID, data.Responses)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *examApi) grade(ctx echo.Context) error {
	var data exam.GradeAttempt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeAttempt")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	summary, err := api.svc.Grade(ctx.Request().Context(), ctx.Param("id"), data.Grades, ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *examApi) query(ctx echo.Context) error {
	filter := new(exam.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	opts := new(exam.QueryOptions)
	if err := ctx.Bind(opts); err != nil {
		return errors.Wrap(err, "binding to QueryOptions")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	page, err := api.svc.Query(ctx.Request().Context(), *filter, *opts, ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *examApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	att, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *examApi) studentStats(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// students may only view their own stats
	studentID := ctx.Param("id")
	if !(ctxUsr.IsAdmin() || ctxUsr.IsLecturer() || studentID == ctxUsr.ID) {
		return errHttpForbidden
	}

	stats, err := api.svc.StudentStats(ctx.Request().Context(), studentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *examApi) quizResults(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	results, err := api.svc.QuizResults(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, results)
}
