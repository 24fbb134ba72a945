package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apipruning "github.com/opst/knitpipe/api-types/pruning"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
	bindpruning "github.com/opst/knitpipe/pkg/api-types-binding/pruning"
	"github.com/opst/knitpipe/pkg/domain/pruning"
)

func CreatePruningRuleHandler(p pruning.Interface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apipruning.RuleRequest{}
		if err := decodeJSON(c, &req); err != nil {
			return err
		}
		if err := pruning.Validate(req.TextToMatch); err != nil {
			return binderr.FromDomain(err)
		}

		rule, err := p.Database().Create(ctx, c.Param(param), req.TextToMatch, p.TokensIn(req.TextToMatch))
		if err != nil {
			return binderr.FromDomain(err)
		}
		return c.JSON(http.StatusCreated, bindpruning.ComposeRule(rule))
	}
}

func UpdatePruningRuleHandler(p pruning.Interface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apipruning.RuleRequest{}
		if err := decodeJSON(c, &req); err != nil {
			return err
		}
		if err := pruning.Validate(req.TextToMatch); err != nil {
			return binderr.FromDomain(err)
		}

		rule, err := p.Database().Update(ctx, c.Param(param), req.TextToMatch, p.TokensIn(req.TextToMatch))
		if err != nil {
			return binderr.FromDomain(err)
		}
		return c.JSON(http.StatusOK, bindpruning.ComposeRule(rule))
	}
}

func DeletePruningRuleHandler(p pruning.Interface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := p.Database().Delete(c.Request().Context(), c.Param(param)); err != nil {
			return binderr.FromDomain(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
