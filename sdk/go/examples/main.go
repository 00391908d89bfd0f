package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Aura-Agent/sdk/go/aura"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(aura.TurnResult{
			SessionID: "demo",
			Thought:   "先确认今天的日程",
			Reply:     "今天 15:00 有一场牙医预约",
			Rounds:    1,
		})
	})
	mux.HandleFunc("/api/v1/approvals", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]aura.PendingApproval{{
				CorrelationID: "appr-demo",
				SessionID:     "demo",
				Tool:          "send_sms",
				Args:          map[string]any{"to": "mom", "body": "晚点到家"},
				CreatedAt:     time.Now().UTC(),
				ExpiresAt:     time.Now().Add(2 * time.Minute).UTC(),
			}})
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "resolved"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/facts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]aura.Fact{{
			ID:        "fact-demo",
			Subject:   "owner",
			Predicate: "likes",
			Object:    "coffee",
			CreatedAt: time.Now().Unix(),
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := aura.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetOwnerToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.SendMessage(ctx, "demo", "我今天有什么安排？")
	if err != nil {
		panic(err)
	}
	fmt.Printf("assistant replied: %s (rounds=%d)\n", result.Reply, result.Rounds)

	pending, err := client.PendingApprovals(ctx)
	if err != nil {
		panic(err)
	}
	for _, approval := range pending {
		fmt.Printf("pending approval %s for tool %s\n", approval.CorrelationID, approval.Tool)
		if err := client.ResolveApproval(ctx, approval.CorrelationID, true, "owner"); err != nil {
			panic(err)
		}
	}

	facts, err := client.QueryFacts(ctx, aura.FactFilter{Subject: "owner"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("known facts: %d\n", len(facts))
}
