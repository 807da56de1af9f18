package hub

import "context"

// RepositoryClient is the request/response transport to the hosted
// repository. Failures are returned as *Error.
type RepositoryClient interface {
	Query(ctx context.Context, q Query) ([]Instance, error)
	CreateObject(ctx context.Context, id ObjectID, properties map[string]any) (Instance, error)
	SendChangeset(ctx context.Context, cs *Changeset) (ChangesetResponse, error)
	UploadFile(ctx context.Context, id ObjectID, path string, progress ProgressFunc) error
	DownloadFile(ctx context.Context, id ObjectID, path string, progress ProgressFunc) error
}
