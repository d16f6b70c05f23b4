package storage

import (
	"context"
	"time"

	"github.com/dgellow/auth-relay/internal/log"
)

// CleanupManager periodically removes abandoned handshake records from
// stores that have no native expiry
type CleanupManager struct {
	sweeper  Sweeper
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewCleanupManager(sweeper Sweeper, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting handshake state cleanup", map[string]any{
		"interval": cm.interval.String(),
	})
	go cm.run(ctx)
}

// Stop ends the loop and waits for the last sweep to finish
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.LogDebug("Handshake state cleanup stopped")
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.sweep(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) sweep(ctx context.Context) {
	count, err := cm.sweeper.DeleteExpired(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to delete expired handshake states", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		log.LogInfoWithFields("cleanup", "Deleted expired handshake states", map[string]any{
			"count": count,
		})
	}
}
