package gmail

import "context"

// Client is the narrow Gmail surface required by inboxrules.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID) (Message, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string, vis Visibility) (LabelID, error)
}
