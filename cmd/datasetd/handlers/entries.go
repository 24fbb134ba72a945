package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apientries "github.com/opst/knitpipe/api-types/entries"
	bindentries "github.com/opst/knitpipe/pkg/api-types-binding/entries"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
	"github.com/opst/knitpipe/pkg/auth"
	"github.com/opst/knitpipe/pkg/domain"
	kentry "github.com/opst/knitpipe/pkg/domain/entry/db"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	kndb "github.com/opst/knitpipe/pkg/domain/node/db"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
	kversioning "github.com/opst/knitpipe/pkg/domain/versioning/db"
	"github.com/opst/knitpipe/pkg/tokenizer"
)

// POST to copy an entry with updates, as a human edit.
//
// Test-set generation for the new entry is enqueued.
func CopyEntryHandler(versioning kversioning.VersioningInterface, enqueuer Enqueuer, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apientries.CopyRequest{}
		if err := decodeJSON(c, &req); err != nil {
			return err
		}
		updates, err := bindentries.Updates(req)
		if err != nil {
			return binderr.FromDomain(err)
		}

		result, err := versioning.CopyEntryWithUpdates(ctx, kversioning.Request{
			PrevEntryId:     c.Param(param),
			AuthoringUserId: auth.UserOf(c),
			Provenance:      domain.RelabeledByHuman,
			Updates:         updates,
		})
		if err != nil {
			return binderr.FromDomain(err)
		}

		if err := enqueuer.Enqueue(ctx, result.Effects...); err != nil {
			c.Logger().Errorf("entry %s is copied, but its effects are not enqueued: %+v", result.Entry.Id, err)
			return binderr.InternalServerError(err)
		}

		return c.JSON(http.StatusOK, bindentries.ComposeEntry(result.Entry))
	}
}

// POST JSONL into an Archive node.
//
// Each line is {"input": {...}, "output": {...}, "split"?: "TRAIN"|"TEST"}.
// An invalid line rejects the whole upload.
// Rows of an upload share an import id, and then the node is processed.
func UploadHandler(
	nodes kndb.NodeInterface,
	entries kentry.EntryInterface,
	tokens tokenizer.Counter,
	enqueuer Enqueuer,
	param string,
) echo.HandlerFunc {
	m := materializer.New(tokens)
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		nodeId := c.Param(param)

		node, err := nodes.Get(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}
		if node.Type != domain.Archive {
			return binderr.BadRequest("entries can be uploaded into Archive nodes only", nil)
		}
		source, err := nodes.SourceChannel(ctx, nodeId)
		if err != nil {
			return binderr.FromDomain(err)
		}

		rows, err := rowvalidation.ParseJSONL(c.Request().Body)
		if err != nil {
			return binderr.FromDomain(err)
		}

		importId, err := uuid.NewV7()
		if err != nil {
			return binderr.InternalServerError(err)
		}
		user := auth.UserOf(c)
		now := time.Now()

		materialized := make([]materializer.Materialized, 0, len(rows))
		for nth, row := range rows {
			mr, err := m.Materialize(
				materializer.FromImportRow(node.ProjectId, importId.String(), user, now, row),
				node.Id, source.Id,
			)
			if err != nil {
				c.Logger().Warnf("upload into %s: row #%d is rejected: %s", nodeId, nth, err)
				return binderr.FromDomain(err)
			}
			materialized = append(materialized, mr)
		}

		inserted, err := entries.Insert(ctx, node.Id, materialized)
		if err != nil {
			return binderr.FromDomain(err)
		}

		if err := enqueuer.Enqueue(ctx, domain.ProcessNode{NodeId: node.Id}); err != nil {
			return binderr.InternalServerError(err)
		}

		return c.JSON(http.StatusCreated, apientries.Uploaded{
			ImportId: importId.String(),
			Rows:     len(rows),
			Inserted: inserted,
		})
	}
}
