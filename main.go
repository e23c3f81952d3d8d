package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-ask/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cli.NewRootCommand(Version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
