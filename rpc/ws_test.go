package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"vaultd/engine"
)

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub(nil)
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	if got, want := hub.Subscribers(), 1; got != want {
		t.Fatalf("subscribers = %d, want %d", got, want)
	}

	hub.Emit(engine.CollateralDeposited{Account: addr(0x01), Asset: "WETH", Amount: eth(3)})

	select {
	case data := <-sub.ch:
		var payload eventPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got, want := payload.Type, engine.TypeCollateralDeposited; got != want {
			t.Fatalf("type = %s, want %s", got, want)
		}
		if got, want := payload.Attributes["amount"], eth(3).String(); got != want {
			t.Fatalf("amount = %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestEventHubDropsWhenSubscriberStalls(t *testing.T) {
	hub := NewEventHub(nil)
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	// Nothing drains the channel; overfilling it must not block Emit.
	for i := 0; i < subscriberBuffer+8; i++ {
		hub.Emit(engine.ZUSDMinted{Account: addr(0x02), Amount: eth(1)})
	}
	if got, want := len(sub.ch), subscriberBuffer; got != want {
		t.Fatalf("buffered = %d, want %d", got, want)
	}
}

func TestEventStreamOverWebsocket(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	account := addr(0xbb)
	env.fundWallet(t, account, eth(1))

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := env.engine.DepositCollateral(ctx, account, "WETH", eth(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got, want := payload.Type, engine.TypeCollateralDeposited; got != want {
		t.Fatalf("type = %s, want %s", got, want)
	}
	if got, want := payload.Attributes["account"], account.String(); got != want {
		t.Fatalf("account = %s, want %s", got, want)
	}
}
