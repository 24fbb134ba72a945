package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	apinodes "github.com/opst/knitpipe/api-types/nodes"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
	bindnodes "github.com/opst/knitpipe/pkg/api-types-binding/nodes"
	"github.com/opst/knitpipe/pkg/domain"
	kndb "github.com/opst/knitpipe/pkg/domain/node/db"
	kpruning "github.com/opst/knitpipe/pkg/domain/pruning/db"
	"github.com/opst/knitpipe/pkg/utils"
)

// GET stats of a node.
//
// Stats carry the ancestors and descendants of the node.
// Dataset nodes also report tokens which pruning rules save.
func GetStatsHandler(nodes kndb.NodeInterface, pruning kpruning.PruningInterface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		nodeId := c.Param(param)

		node, err := nodes.Get(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}
		counts, err := nodes.Counts(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}

		upstream, err := nodes.Upstream(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}
		downstream, err := nodes.Downstream(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}
		idOf := func(n domain.Node) string { return n.Id }

		stats := apinodes.Stats{
			NodeId:     nodeId,
			Counts:     bindnodes.ComposeCounts(counts),
			Upstream:   utils.Map(upstream, idOf),
			Downstream: utils.Map(downstream, idOf),
		}
		if node.Type == domain.Dataset {
			ds, err := nodes.Dataset(ctx, nodeId)
			if err != nil {
				return binderr.FromDomain(err)
			}
			saved, err := pruning.Savings(ctx, ds.Id)
			if err != nil {
				return binderr.FromDomain(err)
			}
			stats.PrunedTokens = &saved
		}

		return c.JSON(http.StatusOK, stats)
	}
}

// GET nodes of the type in a project.
func ListNodesHandler(nodes kndb.NodeInterface, t domain.NodeType, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		summaries, err := nodes.List(ctx, c.Param(param), t)
		if err != nil {
			return binderr.FromDomain(err)
		}
		resp, err := utils.MapUntilError(summaries, bindnodes.ComposeSummary)
		if err != nil {
			return binderr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// POST to process a node.
//
// With query "invalidate=true", outputs of the node are recomputed from scratch.
func ProcessNodeHandler(nodes kndb.NodeInterface, enqueuer Enqueuer, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		nodeId := c.Param(param)

		invalidate := false
		switch q := c.QueryParam("invalidate"); q {
		case "", "false":
		case "true":
			invalidate = true
		default:
			return binderr.BadRequest(`query "invalidate" should be true or false`, nil)
		}

		if _, err := nodes.Get(ctx, nodeId); err != nil {
			return binderr.FromDomain(err)
		}

		job := domain.ProcessNode{NodeId: nodeId, InvalidateData: invalidate}
		if err := enqueuer.Enqueue(ctx, job); err != nil {
			return binderr.InternalServerError(err)
		}
		return c.JSON(http.StatusAccepted, apinodes.Enqueued{NodeId: nodeId, InvalidateData: invalidate})
	}
}

// PUT config of a node.
//
// The body is the config in JSON. Its shape depends on the type of the node.
// When the change affects outputs, the node is reprocessed with invalidation.
func PutConfigHandler(nodes kndb.NodeInterface, enqueuer Enqueuer, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		nodeId := c.Param(param)

		if !isJSON(c) {
			return binderr.BadRequest(
				"unexpected content type. it shoule be application/json", nil,
			)
		}
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return binderr.BadRequest("can not read the request body", err)
		}

		node, err := nodes.Get(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}

		config, err := domain.ParseConfig(node.Type, raw)
		if err != nil {
			return binderr.FromDomain(err)
		}

		updated, changed, err := nodes.UpdateConfig(ctx, nodeId, config)
		if err != nil {
			return binderr.FromDomain(err)
		}

		if err := enqueuer.Enqueue(
			ctx, domain.ProcessNode{NodeId: nodeId, InvalidateData: changed},
		); err != nil {
			return binderr.InternalServerError(err)
		}

		counts, err := nodes.Counts(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}
		resp, err := bindnodes.ComposeSummary(domain.NodeSummary{Node: updated, Counts: counts})
		if err != nil {
			return binderr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
