// Package finetune keeps fine-tunes, their frozen training snapshots and their test-set outputs.
package finetune

import (
	"github.com/google/uuid"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/finetune/db"
)

type Interface interface {
	Database() db.FineTuneInterface
}

type impl struct {
	db db.FineTuneInterface
}

func New(db db.FineTuneInterface) Interface {
	return &impl{db: db}
}

func (i *impl) Database() db.FineTuneInterface {
	return i.db
}

// ModelPrefix is the prefix of model names which fine-tunes are served as.
const ModelPrefix = "knitpipe:"

// ModelName is the model name which the fine-tune is served as.
func ModelName(ft domain.FineTune) string {
	return ModelPrefix + ft.Slug
}

// IsFineTune tells the model id in test-set generation points a fine-tune.
// Otherwise, it is a name of a comparison model.
func IsFineTune(modelId string) bool {
	_, err := uuid.Parse(modelId)
	return err == nil
}
