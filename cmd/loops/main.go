package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opst/knitpipe/cmd/loops/recurring"
	configs "github.com/opst/knitpipe/pkg/configs/backend"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/knitpipe"
	"github.com/opst/knitpipe/pkg/llm"
	"github.com/opst/knitpipe/pkg/processor"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/args"
	"github.com/opst/knitpipe/pkg/utils/filewatch"
	"github.com/opst/knitpipe/pkg/utils/try"
)

func main() {
	logger := byLogger(log.Default(), Copied(), WithTimestamp())
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	// call cancel() when this function exits
	defer cancel()

	// define command line flags
	//-- path to config file
	pconfig := flag.String(
		"config", os.Getenv("KNITPIPE_LOOPS_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("KNITPIPE_SCHEMA"), "schema repository path",
	)
	//-- which loop type to run
	loopType := args.Parser(domain.AsLoopType)
	flag.Var(loopType, "type", "one of loop type (worker|monitor_scan|housekeeping)")
	//-- loop policy
	policy := args.Parser(recurring.ParsePolicy)
	flag.Var(
		policy, "policy",
		`loop policy (syntax: forever[:COOLDOWN]|backlog).`+
			` "forever[:COOLDOWN]" = run forever until error. When backlog is over, `+
			`wait COOLDOWN (optional duration. default: 0) as inteval.`+
			` "backlog" = run until error or backlog is over.`+
			` When omitted, monitor_scan loop waits the interval in config, and the others wait 1s.`,
	)
	// parse command line flags
	flag.Parse()

	if !loopType.IsSet() {
		logger.Fatal("flag -type is required")
	}

	{
		// watch config
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.LoadLoopsConfig(*pconfig)).OrFatal(logger)
	tokens := try.To(tokenizer.ForModel(conf.LLM().Model())).OrFatal(logger)

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

	apiKey := ""
	if p := conf.LLM().APIKeyFile(); p != "" {
		k := try.To(os.ReadFile(p)).OrFatal(logger)
		apiKey = strings.TrimSpace(string(k))
	}

	proc := processor.New(
		byLogger(logger, Copied(), WithPrefix("[processor]")),
		kp.Node().Database(),
		kp.Entry().Database(),
		kp.Pruning().Database(),
		kp.FineTune().Database(),
		kp.Task().Database(),
		llm.New(conf.LLM().BaseURL(), apiKey),
		tokens,
	)

	p := recurring.Forever(time.Second)
	if policy.IsSet() {
		p = policy.Value()
	} else if loopType.Value() == domain.MonitorScan {
		p = recurring.Forever(conf.MonitorScan().Interval())
	}

	logger.Printf(
		`start loop "%s" /w policy "%s"`,
		loopType.Value().String(), p.String(),
	)

	err := StartLoop(
		ctx, logger, kp, proc,
		LoopManifest{
			Type:        loopType.Value(),
			Policy:      recurring.UntilError(p),
			Concurrency: conf.Worker().Concurrency(),
			Visibility:  conf.Worker().VisibilityTimeout(),
			RetryAfter:  conf.Worker().RetryAfter(),
		},
	)

	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		logger.Fatal(err, "(loop context is cancelled by:", context.Cause(ctx), ")")
	}

	logger.Fatal(err)
}
