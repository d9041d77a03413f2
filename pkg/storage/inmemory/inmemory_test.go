package inmemory_test

import (
	"github.com/papercomputeco/chatty/pkg/storage"
	"github.com/papercomputeco/chatty/pkg/storage/inmemory"
	"github.com/papercomputeco/chatty/pkg/storage/storagetest"
)

var _ storage.Driver = (*inmemory.Driver)(nil)

var _ = storagetest.DescribeDriver("inmemory", func() storage.Driver {
	return inmemory.NewDriver()
})
