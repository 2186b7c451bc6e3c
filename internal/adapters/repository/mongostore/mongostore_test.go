package mongostore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/adapters/repository/mongostore"
	"github.com/okian/cadenza/internal/adapters/repository/storetest"
)

func TestStore(t *testing.T) {
	uri := os.Getenv("CADENZA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CADENZA_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := mongostore.Connect(ctx, uri, mongostore.WithDatabase(fmt.Sprintf("cadenza_test_%d", time.Now().UnixNano())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, func(*testing.T) repository.Store { return s })
}
