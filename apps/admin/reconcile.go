package main

import (
	"context"
	"fmt"

	"github.com/labtrack/labtrack/core/session"
)

const reconcileActor = "admin:cli"

func (cli *commandLine) reconcile(kind session.Kind, force bool) error {
	report, err := cli.sessSvc.Reconcile(context.Background(), kind, reconcileActor, force)
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Printf("%s session is active and consistent; nothing to do\n", kind)
		return nil
	}
	fmt.Printf(
		"%s sessions reconciled: repaired=%t resumed_archives=%d purged_records=%d\n",
		kind, report.Repaired, report.ResumedArchives, report.PurgedRecords,
	)
	return nil
}
