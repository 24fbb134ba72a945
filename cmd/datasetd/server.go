package main

import (
	"github.com/labstack/echo/v4"
	"github.com/opst/knitpipe/cmd/datasetd/handlers"
	"github.com/opst/knitpipe/pkg/auth"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/knitpipe"
	"github.com/opst/knitpipe/pkg/processor"
	"github.com/opst/knitpipe/pkg/utils/echoutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// build API server.
//
// Routes under /api require bearer tokens signed by keyring.
func BuildServer(kp knitpipe.Knitpipe, keyring *auth.Keyring, loglevel string) *echo.Echo {
	e := echo.New()

	echoutil.SetLevel(e, loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	enqueuer := processor.NewEnqueuer(kp.Task().Database())
	nodes := kp.Node().Database()

	api := e.Group("/api", keyring.Middleware())
	{
		api.GET("/nodes/:nodeId/stats", handlers.GetStatsHandler(nodes, kp.Pruning().Database(), "nodeId"))
		api.POST("/nodes/:nodeId/process", handlers.ProcessNodeHandler(nodes, enqueuer, "nodeId"))
		api.PUT("/nodes/:nodeId/config", handlers.PutConfigHandler(nodes, enqueuer, "nodeId"))
	}
	{
		api.GET("/projects/:projectId/datasets", handlers.ListNodesHandler(nodes, domain.Dataset, "projectId"))
		api.GET("/projects/:projectId/archives", handlers.ListNodesHandler(nodes, domain.Archive, "projectId"))
		api.GET("/projects/:projectId/monitors", handlers.ListNodesHandler(nodes, domain.Monitor, "projectId"))
	}
	{
		api.POST("/entries/:entryId/copy", handlers.CopyEntryHandler(kp.Versioning().Database(), enqueuer, "entryId"))
		api.POST("/archives/:nodeId/entries", handlers.UploadHandler(
			nodes, kp.Entry().Database(), kp.Tokens(), enqueuer, "nodeId",
		))
	}
	{
		api.POST("/datasets/:datasetId/pruning-rules", handlers.CreatePruningRuleHandler(kp.Pruning(), "datasetId"))
		api.PUT("/pruning-rules/:ruleId", handlers.UpdatePruningRuleHandler(kp.Pruning(), "ruleId"))
		api.DELETE("/pruning-rules/:ruleId", handlers.DeletePruningRuleHandler(kp.Pruning(), "ruleId"))
	}
	{
		api.POST("/datasets/:datasetId/fine-tunes", handlers.CreateFineTuneHandler(kp.FineTune().Database(), "datasetId"))
	}

	return e
}
