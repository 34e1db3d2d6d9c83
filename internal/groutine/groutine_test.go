package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameAndDone(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "worker-1", func(ctx context.Context) {
		names <- Name(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done channel MUST close when fn returns")
	}
	assert.Equal(t, "worker-1", <-names)
}

func TestGo_NilParentAndCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := Go(ctx, "waiter", func(ctx context.Context) {
		<-ctx.Done()
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST observe parent cancellation")
	}

	//nolint:staticcheck // nil parent is part of the contract
	<-Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
}

func TestName_Missing(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", Name(nil))
}
