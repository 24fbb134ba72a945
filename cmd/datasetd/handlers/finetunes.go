package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apifinetunes "github.com/opst/knitpipe/api-types/finetunes"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
	bindfinetunes "github.com/opst/knitpipe/pkg/api-types-binding/finetunes"
	"github.com/opst/knitpipe/pkg/domain"
	kfinetune "github.com/opst/knitpipe/pkg/domain/finetune/db"
)

// POST to create a fine-tune from the current training entries of a dataset.
func CreateFineTuneHandler(fineTunes kfinetune.FineTuneInterface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apifinetunes.Request{}
		if err := decodeJSON(c, &req); err != nil {
			return err
		}
		if err := domain.Validator().Var(req.BaseModel, "required"); err != nil {
			return binderr.BadRequest(`"baseModel" is required`, err)
		}
		if err := domain.Validator().Var(req.PruningRuleIds, "unique,dive,uuid"); err != nil {
			return binderr.BadRequest(`"pruningRuleIds" should be distinct rule ids`, err)
		}

		ft, err := fineTunes.Create(ctx, kfinetune.NewFineTune{
			DatasetId:      c.Param(param),
			BaseModel:      req.BaseModel,
			PruningRuleIds: req.PruningRuleIds,
		})
		if err != nil {
			return binderr.FromDomain(err)
		}
		return c.JSON(http.StatusCreated, bindfinetunes.ComposeFineTune(ft))
	}
}
