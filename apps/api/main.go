package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // mounted on the debug host only
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/mitihani/backend/apps/api/echo"
	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/proctor"
	"github.com/mitihani/backend/core/risk"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
	logsvc "github.com/mitihani/backend/services/logger"
	metricsvc "github.com/mitihani/backend/services/metrics"
	notifysvc "github.com/mitihani/backend/services/notifier"
	"github.com/mitihani/backend/storage/database"
	sqlxrepos "github.com/mitihani/backend/storage/database/sqlx"
)

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

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Fatal("Failed to close DB", err)
		}
	}()

	// set up repositories
	studentRepo := sqlxrepos.NewStudentRepository(db)
	examRepo := sqlxrepos.NewExamRepository(db)
	attemptRepo := sqlxrepos.NewAttemptRepository(db)
	violationRepo := sqlxrepos.NewViolationRepository(db)
	sessionRepo := sqlxrepos.NewSessionRepository(db)
	riskRepo := sqlxrepos.NewRiskRepository(db)

	// set up the notification dispatcher
	var transport notifysvc.Transport
	if conf.Debug {
		transport = notifysvc.NewConsoleTransport()
	} else {
		transport = notifysvc.NewSendgridTransport(conf)
	}
	dispatcher := notifysvc.NewDispatcher(transport, logger, conf.Proctor.NotifyQueueSize)
	defer dispatcher.Close()

	// set up services
	studentSvc := student.NewService(studentRepo)
	examSvc := exam.NewService(examRepo)
	attemptSvc := attempt.NewService(attemptRepo)
	riskSvc := risk.NewService(riskRepo, riskRepo, conf.Proctor.RiskProfileMaxAge)

	ledger := violation.NewLedger(violationRepo, dispatcher, logger)
	guard := session.NewGuard(sessionRepo, conf.Proctor.ActiveSessionTTL)
	clock := session.NewClockGuard(conf.Proctor.MinRequestGap)
	enforcer := attempt.NewEnforcer(attemptSvc, studentSvc, dispatcher, logger)
	pipeline := proctor.New(guard, clock, ledger, enforcer, studentSvc, attemptSvc, examSvc, dispatcher)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /debug/metrics - prometheus scrape endpoint.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/debug/metrics", metricsvc.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			StudentSvc: studentSvc,
			ExamSvc:    examSvc,
			AttemptSvc: attemptSvc,
			RiskSvc:    riskSvc,
			Ledger:     ledger,
			Proctor:    pipeline,
			Validate:   validate,
			Translator: translator,
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

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Ping(db); err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB, conf); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
