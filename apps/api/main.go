package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	"github.com/trezcool/mtihani/storage/database"
	sqlxrepos "github.com/trezcool/mtihani/storage/database/sqlx"
)

func main() {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		core.Conf,
	)
	logger.Enable(!core.Conf.Debug) // only report remotely outside DEV

	// set up DB
	if err := database.CreateIfNotExist(core.Conf); err != nil {
		logger.Fatal(err.Error(), err)
	}
	db, err := database.Open(core.Conf)
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
	defer db.Close()
	if err = database.Migrate(db); err != nil {
		logger.Fatal(err.Error(), err)
	}
	dbx := sqlx.NewDb(db, core.Conf.Database.Engine)

	// set up repos
	usrRepo := sqlxrepos.NewUserRepository(dbx)
	classRepo := sqlxrepos.NewClassRepository(dbx)
	quizRepo := sqlxrepos.NewQuizRepository(dbx)
	attemptRepo := sqlxrepos.NewAttemptRepository(dbx)

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	usrSvc := user.NewService(usrRepo)
	classSvc := class.NewService(classRepo)
	quizSvc := quiz.NewService(quizRepo, classRepo, usrRepo, mailSvc)
	examSvc := exam.NewService(attemptRepo, quizRepo, classRepo, usrRepo, mailSvc)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Address:  core.Conf.Server.Address(),
			Logger:   logger,
			UserSvc:  usrSvc,
			ClassSvc: classSvc,
			QuizSvc:  quizSvc,
			ExamSvc:  examSvc,
		},
	)
	app.Start()
}
