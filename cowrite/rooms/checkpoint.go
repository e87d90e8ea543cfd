package rooms

import (
	"context"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/document"
)

// Checkpointer persists live room state straight into a Repository.
type Checkpointer struct {
	repo Repository
}

func NewCheckpointer(repo Repository) *Checkpointer {
	return &Checkpointer{repo: repo}
}

func (c *Checkpointer) LoadDocument(ctx context.Context, roomID string) (*document.Seed, error) {
	doc, err := c.repo.LoadDocument(ctx, roomID)
	if err != nil || doc == nil {
		return nil, err
	}

	return SeedFrom(doc), nil
}

func (c *Checkpointer) LoadChat(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	return c.repo.ListMessages(ctx, roomID, limit, "")
}

func (c *Checkpointer) SaveDocument(ctx context.Context, snap document.Snapshot) error {
	return c.repo.SaveDocument(ctx, DocumentFrom(snap))
}

func (c *Checkpointer) AppendChat(ctx context.Context, msg chat.Message) error {
	return c.repo.AppendMessages(ctx, []chat.Message{msg})
}

// DocumentFrom converts a live snapshot into its stored form.
func DocumentFrom(snap document.Snapshot) *Document {
	return &Document{
		RoomID:         snap.SessionID,
		Content:        snap.Content,
		Version:        snap.Version,
		LastModified:   snap.LastModified,
		LastModifiedBy: snap.LastModifiedBy,
	}
}

// SeedFrom turns a stored document back into a seed for the live store.
func SeedFrom(doc *Document) *document.Seed {
	return &document.Seed{
		Content:        doc.Content,
		Version:        doc.Version,
		LastModified:   doc.LastModified,
		LastModifiedBy: doc.LastModifiedBy,
	}
}
