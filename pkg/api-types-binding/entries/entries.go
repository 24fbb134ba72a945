package entries

import (
	"github.com/opst/knitpipe/api-types/entries"
	"github.com/opst/knitpipe/api-types/misc/rfctime"
	"github.com/opst/knitpipe/pkg/domain"
	kversioning "github.com/opst/knitpipe/pkg/domain/versioning/db"
)

func ComposeEntry(e domain.NodeEntry) entries.Entry {
	return entries.Entry{
		EntryId:         e.Id,
		NodeId:          e.NodeId,
		PersistentId:    e.PersistentId,
		Status:          string(e.Status),
		Error:           e.Error,
		Split:           string(e.Split),
		InputHash:       e.InputHash,
		OutputHash:      e.OutputHash,
		Provenance:      string(e.Provenance),
		AuthoringUserId: e.AuthoringUserId,
		ImportId:        e.ImportId,
		Outdated:        e.Outdated,
		CreatedAt:       rfctime.RFC3339(e.CreatedAt),
	}
}

// Updates converts the request into overrides of a copy.
//
// Returns
//
// - error: when split is neither TRAIN nor TEST.
func Updates(req entries.CopyRequest) (kversioning.Updates, error) {
	u := kversioning.Updates{Output: req.Output}
	if in := req.Input; in != nil {
		u.Input = &domain.Input{
			Messages:       in.Messages,
			Tools:          in.Tools,
			ToolChoice:     in.ToolChoice,
			ResponseFormat: in.ResponseFormat,
		}
	}
	if s := req.Split; s != nil {
		sp, err := domain.AsSplit(*s)
		if err != nil {
			return kversioning.Updates{}, err
		}
		u.Split = &sp
	}
	return u, nil
}
