package prefs

import (
	"context"

	"github.com/google/uuid"
)

// Flash types.
const (
	FlashNotice = "notice"
	FlashError  = "error"
)

// Flash is a one-shot message shown to a viewer on their next page view.
type Flash struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AddFlash queues a message for viewerID.
func AddFlash(ctx context.Context, s Store, viewerID int64, typ, message string) error {
	var flashes []Flash
	if _, err := s.Get(ctx, viewerID, KeyFlashes, &flashes); err != nil {
		return err
	}
	flashes = append(flashes, Flash{ID: uuid.NewString(), Type: typ, Message: message})
	return s.Set(ctx, viewerID, KeyFlashes, flashes)
}

// DrainFlashes returns and clears the queued messages for viewerID.
func DrainFlashes(ctx context.Context, s Store, viewerID int64) ([]Flash, error) {
	var flashes []Flash
	ok, err := s.Get(ctx, viewerID, KeyFlashes, &flashes)
	if err != nil || !ok {
		return nil, err
	}
	if err := s.Delete(ctx, viewerID, KeyFlashes); err != nil {
		return nil, err
	}
	return flashes, nil
}
