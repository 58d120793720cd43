package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
)

type quizApi struct {
	svc    quiz.Service
	usrSvc user.Service
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc quiz.Service, usrSvc user.Service) {
	api := quizApi{svc: svc, usrSvc: usrSvc}

	qg := g.Group("/questions", jwt, staffMiddleware())
	qg.POST("", api.createQuestion)
	qg.GET("", api.queryQuestions)
	qg.DELETE("", api.destroyQuestions)
	qg.GET("/:id", api.retrieveQuestion)

	zg := g.Group("/quizzes", jwt, staffMiddleware())
	zg.POST("", api.create)
	zg.GET("", api.query)
	zg.DELETE("", api.destroyMultiple)

	dg := zg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.POST("/publish", api.publish)
	dg.POST("/archive", api.archive)
}

// Question handlers

func (api *quizApi) createQuestion(ctx echo.Context) error {
	var data quiz.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	qn, err := api.svc.CreateQuestion(ctx.Request().Context(), data, ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, qn)
}

func (api *quizApi) queryQuestions(ctx echo.Context) error {
	qns, err := api.svc.QueryAllQuestions(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if qns == nil {
		qns = []quiz.Question{}
	}
	return ctx.JSON(http.StatusOK, qns)
}

func (api *quizApi) retrieveQuestion(ctx echo.Context) error {
	qn, err := api.svc.GetQuestion(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, qn)
}

func (api *quizApi) destroyQuestions(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	if err := api.svc.DeleteQuestions(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting questions")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Quiz handlers

func (api *quizApi) create(ctx echo.Context) error {
	var data quiz.NewQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	qz, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}

func (api *quizApi) query(ctx echo.Context) error {
	filter := new(quiz.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Quiz{})
	}
	filter.Clean()

	// lecturers only see their own quizzes
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		filter.CreatedBy = ctxUsr.ID
	}

	quizzes, err := api.svc.Filter(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	qz, err := api.getOwnedQuiz(ctx)
	if err != nil {
		return err
	}
	qz, qns, err := api.svc.GetWithQuestions(ctx.Request().Context(), qz.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, QuizDetailResponse{Quiz: qz, Questions: qns})
}

func (api *quizApi) update(ctx echo.Context) error {
	qz, err := api.getOwnedQuiz(ctx)
	if err != nil {
		return err
	}

	var data quiz.UpdateQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	qz, err = api.svc.Update(ctx.Request().Context(), qz.ID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) publish(ctx echo.Context) error {
	qz, err := api.getOwnedQuiz(ctx)
	if err != nil {
		return err
	}

	var data PublishRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PublishRequest")
	}

	qz, err = api.svc.Publish(ctx.Request().Context(), qz.ID, data.ClassIDs)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) archive(ctx echo.Context) error {
	qz, err := api.getOwnedQuiz(ctx)
	if err != nil {
		return err
	}

	qz, err = api.svc.Archive(ctx.Request().Context(), qz.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		// lecturers may only delete their own quizzes
		for _, id := range query.IDs {
			qz, err := api.svc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				return err
			}
			if qz.CreatedBy != ctxUsr.ID {
				return errHttpForbidden
			}
		}
	}

	if err := api.svc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting quizzes")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// getOwnedQuiz resolves the quiz in the URL and checks the caller may manage it.
func (api *quizApi) getOwnedQuiz(ctx echo.Context) (quiz.Quiz, error) {
	qz, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return quiz.Quiz{}, err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && qz.CreatedBy != ctxUsr.ID {
		return quiz.Quiz{}, errHttpForbidden
	}
	return qz, nil
}

type (
	PublishRequest struct {
		ClassIDs []string `json:"class_ids"`
	}

	QuizDetailResponse struct {
		Quiz      quiz.Quiz       `json:"quiz"`
		Questions []quiz.Question `json:"questions"`
	}
)
