package main

import (
	"ledgervault/cmd/ledger/commands"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := commands.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
