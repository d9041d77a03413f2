// Package vectorutils builds a vector.Driver from configuration.
package vectorutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/vector"
	"github.com/papercomputeco/chatty/pkg/vector/chroma"
	"github.com/papercomputeco/chatty/pkg/vector/chromem"
	"github.com/papercomputeco/chatty/pkg/vector/inmemory"
	"github.com/papercomputeco/chatty/pkg/vector/pgvector"
	"github.com/papercomputeco/chatty/pkg/vector/qdrant"
	"github.com/papercomputeco/chatty/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the provider address: a file path for sqlite and chromem,
	// a URL for chroma, host:port for qdrant, or a DSN for pgvector.
	TargetURL  string
	Collection string
	Dimensions uint
	APIKey     string
	Logger     *zap.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch o.ProviderType {
	case "sqlite":
		return sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, logger)
	case "chromem":
		return chromem.NewDriver(chromem.Config{
			Path:       o.TargetURL,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
		}, logger)
	case "chroma":
		return chroma.NewChromaDriver(ctx, chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, logger)
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			Target:     o.TargetURL,
			APIKey:     o.APIKey,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
		}, logger)
	case "pgvector", "postgres":
		return pgvector.NewDriver(ctx, pgvector.Config{
			DSN:        o.TargetURL,
			Table:      o.Collection,
			Dimensions: o.Dimensions,
		}, logger)
	case "memory":
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
