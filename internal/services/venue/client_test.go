package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	return NewClient(server.URL, "test-key", "test-secret"), server
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetListing_FiltersByMerchantAndStatus(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/adv/search" {
			t.Errorf("path = %s, want /api/v1/adv/search", r.URL.Path)
		}
		writeJSON(w, map[string]interface{}{
			"code": 0,
			"msg":  "ok",
			"data": []map[string]interface{}{
				{"advNo": "A-1", "merchantNickname": "other", "price": "99.50", "advStatus": 1, "merchantOnline": true},
				{"advNo": "A-2", "merchantNickname": "maker01", "price": "100.20", "advStatus": 0, "merchantOnline": true},
				{"advNo": "A-3", "merchantNickname": "maker01", "price": "100.50", "priceFloatingRatio": "1.0200", "advStatus": 1, "merchantOnline": false},
			},
		})
	}))
	defer server.Close()

	listing, err := client.GetListing(context.Background(), "maker01", "USDT", "CNY", "BUY")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.AdNumber != "A-3" {
		t.Errorf("AdNumber = %s, want A-3 (offline ad A-2 must be skipped)", listing.AdNumber)
	}
	if listing.Price != 100.50 || listing.Ratio != 1.02 {
		t.Errorf("Price/Ratio = %v/%v, want 100.5/1.02", listing.Price, listing.Ratio)
	}
	if listing.Online {
		t.Error("Online = true, want false")
	}
}

func TestGetListing_NotFound(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 0, "msg": "ok", "data": []interface{}{}})
	}))
	defer server.Close()

	_, err := client.GetListing(context.Background(), "maker01", "USDT", "CNY", "BUY")
	if !errors.Is(err, ErrListingNotFound) {
		t.Errorf("err = %v, want ErrListingNotFound", err)
	}
}

func TestGetListing_TransientAPIError(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": CodeRateLimited, "msg": "too many requests"})
	}))
	defer server.Close()

	_, err := client.GetListing(context.Background(), "maker01", "USDT", "CNY", "BUY")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != CodeRateLimited || !apiErr.IsTransient() {
		t.Errorf("APIError = %+v, want transient rate-limit error", apiErr)
	}
}

func TestGetMarketReference_MedianExcludingOwnAds(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"code": 0,
			"msg":  "ok",
			"data": []map[string]interface{}{
				{"advNo": "M-1", "price": "100.00", "advStatus": 1},
				{"advNo": "M-2", "price": "102.00", "advStatus": 1},
				{"advNo": "M-3", "price": "101.00", "advStatus": 1},
				{"advNo": "OWN-1", "price": "999.00", "advStatus": 1}, // our own ad, excluded
				{"advNo": "M-4", "price": "90.00", "advStatus": 0},    // offline, ignored
			},
		})
	}))
	defer server.Close()

	got, err := client.GetMarketReference(context.Background(), "USDT", "CNY", "BUY", []string{"OWN-1"})
	if err != nil {
		t.Fatalf("GetMarketReference: %v", err)
	}
	if got != 101 {
		t.Errorf("reference = %v, want median 101", got)
	}
}

func TestGetMarketReference_EvenCountAveragesMiddle(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"code": 0,
			"msg":  "ok",
			"data": []map[string]interface{}{
				{"advNo": "M-1", "price": "100.00", "advStatus": 1},
				{"advNo": "M-2", "price": "104.00", "advStatus": 1},
				{"advNo": "M-3", "price": "101.00", "advStatus": 1},
				{"advNo": "M-4", "price": "103.00", "advStatus": 1},
			},
		})
	}))
	defer server.Close()

	got, err := client.GetMarketReference(context.Background(), "USDT", "CNY", "BUY", nil)
	if err != nil {
		t.Fatalf("GetMarketReference: %v", err)
	}
	if got != 102 {
		t.Errorf("reference = %v, want (101+103)/2 = 102", got)
	}
}

func TestGetMarketReference_NoUsableAds(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"code": 0,
			"msg":  "ok",
			"data": []map[string]interface{}{
				{"advNo": "OWN-1", "price": "100.00", "advStatus": 1},
			},
		})
	}))
	defer server.Close()

	_, err := client.GetMarketReference(context.Background(), "USDT", "CNY", "BUY", []string{"OWN-1"})
	if !errors.Is(err, ErrListingNotFound) {
		t.Errorf("err = %v, want ErrListingNotFound", err)
	}
}

func TestSetAdPrice_SignsAndFormatsRequest(t *testing.T) {
	var gotReq updatePriceRequest
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		timestamp := r.Header.Get("X-TIMESTAMP")
		if r.Header.Get("X-API-KEY") != "test-key" || timestamp == "" {
			t.Error("missing auth headers")
		}
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(timestamp))
		mac.Write(body)
		if want := hex.EncodeToString(mac.Sum(nil)); r.Header.Get("X-SIGNATURE") != want {
			t.Errorf("signature = %s, want %s", r.Header.Get("X-SIGNATURE"), want)
		}

		writeJSON(w, map[string]interface{}{"code": 0, "msg": "ok"})
	}))
	defer server.Close()

	price := 100.5
	if err := client.SetAdPrice(context.Background(), "AD-1", &price, nil); err != nil {
		t.Fatalf("SetAdPrice: %v", err)
	}
	if gotReq.AdvNo != "AD-1" {
		t.Errorf("advNo = %s, want AD-1", gotReq.AdvNo)
	}
	if gotReq.Price != "100.50" {
		t.Errorf("price = %q, want %q", gotReq.Price, "100.50")
	}
	if gotReq.PriceRatio != "" {
		t.Errorf("priceFloatingRatio = %q, want empty in fixed mode", gotReq.PriceRatio)
	}
}

func TestSetAdPrice_RatioMode(t *testing.T) {
	var gotReq updatePriceRequest
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		writeJSON(w, map[string]interface{}{"code": 0, "msg": "ok"})
	}))
	defer server.Close()

	ratio := 1.021
	if err := client.SetAdPrice(context.Background(), "AD-1", nil, &ratio); err != nil {
		t.Fatalf("SetAdPrice: %v", err)
	}
	if gotReq.PriceRatio != "1.0210" {
		t.Errorf("priceFloatingRatio = %q, want %q", gotReq.PriceRatio, "1.0210")
	}
	if gotReq.Price != "" {
		t.Errorf("price = %q, want empty in ratio mode", gotReq.Price)
	}
}

func TestSetAdPrice_VenueRejection(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": CodePriceOutOfRange, "msg": "price out of range"})
	}))
	defer server.Close()

	price := 100.5
	err := client.SetAdPrice(context.Background(), "AD-1", &price, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != CodePriceOutOfRange || apiErr.IsTransient() {
		t.Errorf("APIError = %+v, want non-transient rejection", apiErr)
	}
}
