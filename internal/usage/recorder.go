package usage

import (
	"context"

	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/models"
	"omni2api-go/internal/monitoring"
)

// Store is the slice of the storage layer the recorder needs.
type Store interface {
	CommitUsage(ctx context.Context, entry *models.UsageLog) error
}

// Recorder persists request accounting. A commit failure is an
// operational problem, never the client's; it is logged and dropped.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Commit truncates oversize fields and writes the row. The context is
// detached from request cancellation so a client disconnect mid-stream
// still gets its row.
func (r *Recorder) Commit(ctx context.Context, entry *models.UsageLog) {
	if r == nil || r.store == nil || entry == nil {
		return
	}
	entry.ErrorMessage = Truncate(entry.ErrorMessage, MaxErrorBytes)
	entry.RequestBody = Truncate(entry.RequestBody, MaxBodyBytes)

	if err := r.store.CommitUsage(context.WithoutCancel(ctx), entry); err != nil {
		monitoring.UsageCommitFailures.Inc()
		log.WithError(err).WithFields(log.Fields{
			"user_id":     entry.UserID,
			"config_type": entry.ConfigType,
			"model":       entry.Model,
		}).Error("usage commit failed")
		return
	}
	log.WithFields(log.Fields{
		"user_id":      entry.UserID,
		"config_type":  entry.ConfigType,
		"model":        entry.Model,
		"success":      entry.Success,
		"total_tokens": entry.TotalTokens,
	}).Debug("usage committed")
}
