package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gateway-fm/workload/internal/rpc"
)

func TestNodeHealth(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name: "block number answered",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					ID int64 `json:"id"`
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x10"})
			},
		},
		{
			name: "node unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			cfg := rpc.DefaultClientConfig(ts.URL)
			cfg.MaxRetries = 0
			client, err := rpc.NewHTTPClient(cfg)
			if err != nil {
				t.Fatalf("NewHTTPClient() error = %v", err)
			}
			defer client.Close()

			h := &NodeHealth{Client: client}
			err = h.CheckNode(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckNode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
