package oauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/madkernel/server/internal/oauth"
	"github.com/madkernel/server/internal/storage/memory"
)

func newCodeFixture(t *testing.T) (*oauth.CodeStore, *oauth.TokenService) {
	t.Helper()
	store := memory.NewLookupStore()
	cs := &oauth.CodeStore{Store: store, TTL: 600}
	ts, _ := newService(t, time.Unix(oauth.Epoch2000+1000, 0))
	return cs, ts
}

func TestRedeemAuthorizationCodeHappyPath(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()

	if err := cs.Put(ctx, "abc", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Authorized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-a", "https://cb")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == nil {
		t.Errorf("expected full response, got %+v", resp)
	}

	if _, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-a", "https://cb"); err != oauth.ErrAccessDenied {
		t.Errorf("expected access_denied on second redeem, got %v", err)
	}
}

func TestRedeemAuthorizationCodePendingIsInvalidGrant(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()

	if err := cs.Put(ctx, "abc", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Pending}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-a", "https://cb"); err != oauth.ErrInvalidGrant {
		t.Errorf("expected invalid_grant, got %v", err)
	}
}

// A device code still awaiting user approval reports authorization_pending.
func TestRedeemDeviceCodePending(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()

	if err := cs.Put(ctx, "dev1", oauth.Code{ClientID: "client-a", AccountID: 1, Status: oauth.Pending}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := cs.RedeemDeviceCode(ctx, ts, "dev1", "client-a"); err != oauth.ErrAuthorizationPending {
		t.Errorf("expected authorization_pending, got %v", err)
	}
}

func TestRedeemDeviceCodeUnknownIsExpired(t *testing.T) {
	cs, ts := newCodeFixture(t)
	if _, err := cs.RedeemDeviceCode(context.Background(), ts, "missing", "client-a"); err != oauth.ErrExpiredToken {
		t.Errorf("expected expired_token, got %v", err)
	}
}

// Concurrent redeemers of the same authorized code mint exactly one token.
func TestAtMostOnceCodeUnderConcurrency(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()
	if err := cs.Put(ctx, "race", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Authorized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := cs.RedeemAuthorizationCode(ctx, ts, "race", "client-a", "https://cb"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one success, got %d", count)
	}
}

func TestRedeemAuthorizationCodeClientMismatchIsInvalidClient(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()

	if err := cs.Put(ctx, "abc", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Authorized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-b", "https://cb"); err != oauth.ErrInvalidClient {
		t.Errorf("expected invalid_client for wrong client_id, got %v", err)
	}
	if _, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-a", "https://elsewhere"); err != oauth.ErrInvalidClient {
		t.Errorf("expected invalid_client for wrong redirect_uri, got %v", err)
	}

	// The mismatch checks must not consume the code.
	if _, err := cs.RedeemAuthorizationCode(ctx, ts, "abc", "client-a", "https://cb"); err != nil {
		t.Errorf("expected the untouched code to still redeem, got %v", err)
	}
}

func TestRedeemDeviceCodeClientMismatchIsInvalidClient(t *testing.T) {
	cs, ts := newCodeFixture(t)
	ctx := context.Background()

	// Checked ahead of the status branch: even a Pending code reports the
	// client mismatch, not authorization_pending.
	if err := cs.Put(ctx, "dev1", oauth.Code{ClientID: "client-a", AccountID: 1, Status: oauth.Pending}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cs.RedeemDeviceCode(ctx, ts, "dev1", "client-b"); err != oauth.ErrInvalidClient {
		t.Errorf("expected invalid_client for wrong client_id, got %v", err)
	}
}
