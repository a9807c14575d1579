package main

import (
	"context"
	"fmt"
	"os"
)

func (cli *commandLine) importStudents(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := cli.stdSvc.ImportCSV(context.Background(), f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d students\n", n)
	return nil
}
