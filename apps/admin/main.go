package main

import (
	"context"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	notifysvc "github.com/trezcool/darasa/services/notify"
	"github.com/trezcool/darasa/storage/database"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()
	errAndDie(conf.Validate())

	appLogger := logsvc.NewRollbarLogger(logger, conf)
	appLogger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	errAndDie(database.Ping(context.Background(), db))

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		attSvc:   newAttendanceService(conf, db, appLogger),
		validate: newValidator(),
		out:      os.Stdout,
	}
	err = cli.run(os.Args)
	cli.attSvc.Wait() // flush pending notifications
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func newAttendanceService(conf *core.Config, db *sqlx.DB, appLogger core.Logger) *attendance.Service {
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, appLogger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, appLogger)
	}

	var sender notifysvc.Sender
	if conf.Notification.Channel == "whatsapp" {
		sender = notifysvc.NewWhatsAppSender(conf)
	} else {
		sender = notifysvc.NewConsoleSender(logger)
	}

	return attendance.NewService(attendance.ServiceDeps{
		Conf:     conf,
		Logger:   appLogger,
		Records:  sqlxrepos.NewRecordRepository(db),
		Students: sqlxrepos.NewStudentRepository(db),
		Notifier: notifysvc.NewGateway(conf, sender, sqlxrepos.NewNotificationRepository(db), appLogger),
		MailSvc:  mailSvc,
	})
}

func newValidator() *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	return validate
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
