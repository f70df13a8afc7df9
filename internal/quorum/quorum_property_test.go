package quorum

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"timelock/internal/logging"
)

// Whatever mix of answers the peers give, the result has a quorum exactly
// when enough peers answered successfully, and never holds more responses
// than there are participants.
func TestCollect_QuorumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 7).Draw(t, "participants")
		q := rapid.IntRange(1, n).Draw(t, "quorum")
		outcomes := rapid.SliceOfN(rapid.IntRange(0, 2), n, n).Draw(t, "outcomes")

		peers := make(map[string]int, n-1)
		for i := 1; i < n; i++ {
			peers[fmt.Sprintf("p%d", i)] = outcomes[i]
		}
		env := NewEnvironment("p0", outcomes[0], peers, 4)

		c, err := NewChecker("prop", Params{QuorumSize: q, Timeout: 2 * time.Second, CancelRemainingCalls: true}, n, logging.Base(), nil)
		if err != nil {
			t.Fatalf("checker: %v", err)
		}

		successes := 0
		for _, o := range outcomes {
			if o == 0 {
				successes++
			}
		}

		result := Collect(context.Background(), c, env, func(_ context.Context, o int) (ack, error) {
			switch o {
			case 0:
				return true, nil
			case 1:
				return false, nil
			default:
				return false, errors.New("down")
			}
		})

		if result.HasQuorum() != (successes >= q) {
			t.Fatalf("HasQuorum=%v with %d successes and quorum %d", result.HasQuorum(), successes, q)
		}
		if got := result.WithoutRemotes().Size(); got > n {
			t.Fatalf("%d responses from %d participants", got, n)
		}
		if result.HasQuorum() && result.WithoutRemotes().SuccessCount() < q {
			t.Fatalf("quorum reported with %d successes", result.WithoutRemotes().SuccessCount())
		}
	})
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Int64Range(1, 8).Draw(t, "limit")
		e := NewExecutor("peer", limit)
		hold := make(chan struct{})

		for i := int64(0); i < limit; i++ {
			if err := e.Submit(context.Background(), func(context.Context) error {
				<-hold
				return nil
			}, func(error) {}); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
		}
		err := e.Submit(context.Background(), func(context.Context) error { return nil }, func(error) {})
		close(hold)
		if !errors.Is(err, ErrExecutorSaturated) {
			t.Fatalf("expected saturation, got %v", err)
		}
	})
}
