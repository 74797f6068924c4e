package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttach_RunsOnTheTabContext(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "tab"))
	defer tabCancel()
	caller, cancelCaller := context.WithCancel(context.Background())

	var got context.Context
	run := func(ctx context.Context, _ ...chromedp.Action) error {
		got = ctx
		return nil
	}

	require.NoError(t, attach(caller, tabCtx, tabCancel, run))
	assert.True(t, got == tabCtx, "the first run must receive the tab context itself")

	// The caller going away after the tab is open must not end the tab.
	cancelCaller()
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, tabCtx.Err())
}

func TestAttach_CallerCancelAbortsTab(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	caller, cancelCaller := context.WithCancel(context.Background())

	run := func(ctx context.Context, _ ...chromedp.Action) error {
		cancelCaller()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("tab was not canceled")
		}
	}

	err := attach(caller, tabCtx, tabCancel, run)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, tabCtx.Err(), context.Canceled)
}

func TestAttach_ReturnsRunError(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	boom := errors.New("target crashed")

	err := attach(context.Background(), tabCtx, tabCancel, func(context.Context, ...chromedp.Action) error { return boom })
	assert.ErrorIs(t, err, boom)
}
