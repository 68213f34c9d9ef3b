package repository

import (
	"context"

	"github.com/dreamware/vmm/internal/model"
)

// Adapter is the contract every repository implementation fulfils. The engine
// calls it with a request envelope addressed to this repository and expects a
// response envelope or an *model.Error.
//
// Implementations must be safe for concurrent use: the engine dispatches
// sub-queries for several requests at once. An Adapter never sees another
// repository's entities; the engine does all merging.
//
// Error contract:
//   - Return model errors (model.Errorf) so the engine can classify them.
//   - Foreign errors are treated as RepositoryUnavailable.
//   - Login failures return PasswordCheckFailed or PrincipalNotFound.
//   - An adapter without certificate mapping returns CertificateMapNotSupported.
type Adapter interface {
	Get(ctx context.Context, req *model.Root) (*model.Root, error)
	Search(ctx context.Context, req *model.Root) (*model.Root, error)
	Login(ctx context.Context, req *model.Root) (*model.Root, error)
	Create(ctx context.Context, req *model.Root) (*model.Root, error)
	Update(ctx context.Context, req *model.Root) (*model.Root, error)
	Delete(ctx context.Context, req *model.Root) (*model.Root, error)
}

// Pinger is implemented by adapters that can report their own liveness.
// The HealthMonitor uses it; adapters without it are always considered up.
type Pinger interface {
	Ping(ctx context.Context) error
}
