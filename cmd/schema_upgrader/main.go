package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/jackc/pgx/v4/pgxpool"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	kpgschema "github.com/opst/knitpipe/pkg/domain/schema/db/postgres"
	kio "github.com/opst/knitpipe/pkg/io"
	"github.com/opst/knitpipe/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	port := 5432
	if sp := os.Getenv("DB_PORT"); sp != "" {
		p, err := strconv.Atoi(sp)
		if err == nil {
			port = p
		}
	}

	host := flag.String("host", os.Getenv("DB_HOST"), "The host of the database.")
	pport := flag.Int("port", port, "The port of the database.")
	user := flag.String("user", os.Getenv("DB_USER"), "The user of the database.")
	password := flag.String("pass", os.Getenv("DB_PASSWORD"), "The password of the database.")
	database := flag.String("database", os.Getenv("DB_NAME"), "The name of the database.")
	schema := flag.String("schema", os.Getenv("KNITPIPE_SCHEMA"), "The path to the schema repository directory.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [SCHEMA_DEST]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "SCHEMA_DEST: The schema files are copied to this directory.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if dest := flag.Arg(0); dest != "" {
		logger.Println("copying schema files...")
		if err := kio.DirCopy(*schema, dest); err != nil {
			logger.Fatal(err)
		}
	}

	pool := try.To(pgxpool.Connect(
		ctx,
		fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s",
			*user, *password, *host, *pport, *database,
		),
	)).OrFatal(logger)
	defer pool.Close()

	if err := kpgschema.New(kpool.Wrap(pool), *schema).Upgrade(ctx); err != nil {
		logger.Fatal(err)
	}
	logger.Println("schema is up to date.")
}
