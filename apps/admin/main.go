package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
	"github.com/labtrack/labtrack/storage/docstore"
	"github.com/labtrack/labtrack/storage/docstore/firestore"
	"github.com/labtrack/labtrack/storage/docstore/inmem"
	"github.com/labtrack/labtrack/storage/docstore/postgres"
)

var logger *log.Logger // todo: logger service

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up document store
	store, db, err := openStore()
	errAndDie(err)
	defer store.Close()

	usrRepo := docstore.NewUserRepository(store)
	usrSvc := user.NewService(usrRepo)
	stdSvc := student.NewService(docstore.NewStudentRepository(store))
	subSvc := subject.NewService(docstore.NewSubjectRepository(store))
	eqSvc := equipment.NewService(docstore.NewEquipmentRepository(store))
	auditSvc := audit.NewService(docstore.NewAuditRepository(store))
	sessSvc := session.NewService(
		docstore.NewSessionRepository(store),
		stdSvc, subSvc, eqSvc, usrSvc, auditSvc, nil /* mailSvc */, core.StdLogger{Std: logger},
	)

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		stdSvc:  stdSvc,
		sessSvc: sessSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// openStore opens the configured document store. db is nil unless the
// backend is postgres; the migrate command needs the raw handle.
func openStore() (core.DocStore, *sql.DB, error) {
	switch core.Conf.Store.Backend {
	case "postgres":
		if err := postgres.CreateIfNotExist(); err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open()
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db, core.StdLogger{Std: logger}), db.DB, nil
	case "inmem":
		return inmem.NewStore(), nil, nil
	default:
		store, err := firestore.NewStore(context.Background())
		return store, nil, err
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
