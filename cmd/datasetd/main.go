package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opst/knitpipe/pkg/auth"
	configs "github.com/opst/knitpipe/pkg/configs/backend"
	"github.com/opst/knitpipe/pkg/domain/knitpipe"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/filewatch"
	"github.com/opst/knitpipe/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("KNITPIPE_API_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("KNITPIPE_SCHEMA"), "schema repository path",
	)
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	conf := try.To(configs.LoadAPIConfig(*pconfig)).OrFatal(logger)

	{
		// restart when config or sign key is updated.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig, conf.Auth().SignKeyFile())
		if err != nil {
			logger.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		ctx = wctx
	}

	tokens := try.To(tokenizer.ForModel(conf.Model())).OrFatal(logger)
	kp := try.To(knitpipe.New(
		ctx, conf.Database(), tokens,
		knitpipe.WithSchemaRepository(*pSchemaRepo),
	)).OrFatal(logger)
	defer kp.Close()

	{
		ctx_, ccan := kp.Schema().Database().Context(ctx)
		defer ccan()
		ctx = ctx_
	}

	key := try.To(os.ReadFile(conf.Auth().SignKeyFile())).OrFatal(logger)
	e := BuildServer(kp, auth.New(key, conf.Auth().Issuer()), *loglevel)

	logger.Println("registred routes:")
	for _, r := range e.Routes() {
		logger.Println(r.Method, r.Path)
	}

	context.AfterFunc(ctx, func() {
		logger.Printf("shutting down: %s", context.Cause(ctx))
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			logger.Printf("error on shutdown: %s", err)
		}
	})

	addr := fmt.Sprintf(":%d", conf.Port())
	var err error
	if cert, key := *pcert, *pkey; cert != "" && key != "" {
		err = e.StartTLS(addr, cert, key)
	} else {
		err = e.Start(addr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}
