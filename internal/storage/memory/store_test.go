package memory

import (
	"testing"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) catalog.Store { return New() })
}
