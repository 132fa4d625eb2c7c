package syncer

import (
	"github.com/kbvault/kbvault/internal/config"
)

// New builds the coordinator selected by the configuration. Unknown modes
// fall back to the synchronous coordinator, which has the strongest
// consistency story.
func New(cfg config.SyncerConfig, source ItemSource, idx Writer) Coordinator {
	if cfg.Mode == "async" {
		return NewAsync(source, idx, AsyncConfig{
			QueueSize:    cfg.QueueSize,
			MaxAttempts:  cfg.MaxAttempts,
			RetryBackoff: cfg.RetryBackoff,
		})
	}
	return NewSync(source, idx)
}
