package mocks

import (
	"sync"
	"time"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// RecordingObserver keeps every notification it receives
type RecordingObserver struct {
	mu        sync.Mutex
	purchases []entity.PurchaseNotification
	downloads []entity.DownloadNotification
	updates   chan entity.PurchaseNotification
}

// NewRecordingObserver creates a new recording observer
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{updates: make(chan entity.PurchaseNotification, 256)}
}

func (o *RecordingObserver) PurchaseUpdated(n entity.PurchaseNotification) {
	o.mu.Lock()
	o.purchases = append(o.purchases, n)
	o.mu.Unlock()
	o.updates <- n
}

func (o *RecordingObserver) DownloadUpdated(n entity.DownloadNotification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.downloads = append(o.downloads, n)
}

// Next waits for the next purchase notification
func (o *RecordingObserver) Next(timeout time.Duration) (entity.PurchaseNotification, bool) {
	select {
	case n := <-o.updates:
		return n, true
	case <-time.After(timeout):
		return entity.PurchaseNotification{}, false
	}
}

// Purchases returns every purchase notification received so far
func (o *RecordingObserver) Purchases() []entity.PurchaseNotification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]entity.PurchaseNotification(nil), o.purchases...)
}

// Downloads returns every download notification received so far
func (o *RecordingObserver) Downloads() []entity.DownloadNotification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]entity.DownloadNotification(nil), o.downloads...)
}
