package finetunes

import (
	apifinetunes "github.com/opst/knitpipe/api-types/finetunes"
	"github.com/opst/knitpipe/api-types/misc/rfctime"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/finetune"
)

func ComposeFineTune(ft domain.FineTune) apifinetunes.FineTune {
	return apifinetunes.FineTune{
		FineTuneId:   ft.Id,
		DatasetId:    ft.DatasetId,
		Slug:         ft.Slug,
		Model:        finetune.ModelName(ft),
		BaseModel:    ft.BaseModel,
		Status:       string(ft.Status),
		ErrorMessage: ft.ErrorMessage,
		CreatedAt:    rfctime.RFC3339(ft.CreatedAt),
	}
}
