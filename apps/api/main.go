package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labtrack/labtrack/apps/api/echo"
	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
	emailsvc "github.com/labtrack/labtrack/services/email"
	logsvc "github.com/labtrack/labtrack/services/logger"
	"github.com/labtrack/labtrack/storage/docstore"
	"github.com/labtrack/labtrack/storage/docstore/firestore"
	"github.com/labtrack/labtrack/storage/docstore/inmem"
	"github.com/labtrack/labtrack/storage/docstore/postgres"
)

const reconcileActor = "system:startup"

func main() {
	// =========================================================================
	// Set up Dependencies

	var logger core.Logger
	if core.Conf.RollbarToken != "" {
		rl := logsvc.NewRollbarLogger(
			log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
			core.Conf,
		)
		rl.Enable(!core.Conf.Debug)
		logger = rl
	} else {
		logger = core.StdLogger{Std: log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)}
	}

	store, err := openStore(logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up document store: %v", err), err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing document store: %v", err), err)
		}
	}()

	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	usrSvc := user.NewService(docstore.NewUserRepository(store))
	stdSvc := student.NewService(docstore.NewStudentRepository(store))
	subSvc := subject.NewService(docstore.NewSubjectRepository(store))
	eqSvc := equipment.NewService(docstore.NewEquipmentRepository(store))
	auditSvc := audit.NewService(docstore.NewAuditRepository(store))
	sessSvc := session.NewService(
		docstore.NewSessionRepository(store),
		stdSvc, subSvc, eqSvc, usrSvc, auditSvc, mailSvc, logger,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", core.Conf.Build))
	defer logger.Info("Application stopped")

	// clean up artifacts of a previous unclean shutdown
	for _, kind := range []session.Kind{session.KindRegular, session.KindGuest} {
		report, err := sessSvc.Reconcile(context.Background(), kind, reconcileActor, false)
		if err != nil {
			logger.Fatal(fmt.Sprintf("reconciling %s sessions: %v", kind, err), err)
		}
		if !report.Skipped {
			logger.Info(fmt.Sprintf(
				"reconciled %s sessions: purged %d records, resumed %d archives",
				kind, report.PurgedRecords, report.ResumedArchives,
			))
		}
	}

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Address:        core.Conf.Server.Addr,
		Logger:         logger,
		SignalShutdown: func() { shutdown <- syscall.SIGTERM },
		UserSvc:        usrSvc,
		StudentSvc:     stdSvc,
		SubjectSvc:     subSvc,
		EquipmentSvc:   eqSvc,
		SessionSvc:     sessSvc,
		AuditSvc:       auditSvc,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Fatal(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func openStore(logger core.Logger) (core.DocStore, error) {
	switch core.Conf.Store.Backend {
	case "postgres":
		if err := postgres.CreateIfNotExist(); err != nil {
			return nil, err
		}
		db, err := postgres.Open()
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db.DB); err != nil {
			return nil, err
		}
		return postgres.NewStore(db, logger), nil
	case "inmem":
		return inmem.NewStore(), nil
	default:
		return firestore.NewStore(context.Background())
	}
}
