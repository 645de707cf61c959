package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
	emailsvc "github.com/trezcool/darasa/services/email"
	eventsvc "github.com/trezcool/darasa/services/events"
	logsvc "github.com/trezcool/darasa/services/logger"
	notifysvc "github.com/trezcool/darasa/services/notify"
	"github.com/trezcool/darasa/storage/database"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

type repositories struct {
	students      student.Repository
	records       attendance.RecordRepository
	notifications core.NotificationRepository
	close         func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	if err := conf.Validate(); err != nil {
		logger.Fatal(fmt.Sprintf("invalid configuration: %v", err), err)
	}

	// set up DB
	repos, err := setUpRepositories(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var sender notifysvc.Sender
	if conf.Notification.Channel == "whatsapp" {
		sender = notifysvc.NewWhatsAppSender(conf)
	} else {
		sender = notifysvc.NewConsoleSender(log.New(os.Stdout, "NOTIFY : ", log.LstdFlags))
	}
	notifier := notifysvc.NewGateway(conf, sender, repos.notifications, logger)

	events, closeEvents, err := eventsvc.Connect(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to NATS: %v", err), err)
	}
	defer closeEvents()

	stdSvc := student.NewService(repos.students, conf, logger)
	attSvc := attendance.NewService(attendance.ServiceDeps{
		Conf:     conf,
		Logger:   logger,
		Clock:    core.NewClock(conf.Location()),
		Records:  repos.records,
		Students: repos.students,
		Notifier: notifier,
		MailSvc:  mailSvc,
		Events:   events,
	})
	defer attSvc.Wait() // flush pending notifications

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("dbEngine").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			StudentSvc:    stdSvc,
			AttendanceSvc: attSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpRepositories(conf *core.Config) (repositories, error) {
	if conf.Database.Engine == "inmem" {
		db := inmemdb.Open()
		return repositories{
			students:      inmemdb.NewStudentRepository(db),
			records:       inmemdb.NewRecordRepository(db),
			notifications: inmemdb.NewNotificationRepository(db),
			close:         func() error { return nil },
		}, nil
	}

	db, err := setUpDB(conf)
	if err != nil {
		return repositories{}, err
	}
	return repositories{
		students:      sqlxrepos.NewStudentRepository(db),
		records:       sqlxrepos.NewRecordRepository(db),
		notifications: sqlxrepos.NewNotificationRepository(db),
		close:         db.Close,
	}, nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout*6)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
