package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func fakeDaraja(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "ck" || p != "cs" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"abcdefghijklmnop","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["PhoneNumber"] != "254712345678" {
			t.Errorf("phone not normalized: %v", body["PhoneNumber"])
		}
		_, _ = w.Write([]byte(`{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing"}`))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setGatewayEnv(t *testing.T, base string) {
	t.Setenv("MPESA_BASE_URL", base)
	t.Setenv("MPESA_CONSUMER_KEY", "ck")
	t.Setenv("MPESA_CONSUMER_SECRET", "cs")
	t.Setenv("MPESA_SHORTCODE", "174379")
	t.Setenv("MPESA_PASSKEY", "pk")
	t.Setenv("MPESA_CALLBACK_URL", "https://shop.example/api/mpesa/callback")
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCmd(t *testing.T) {
	srv := fakeDaraja(t)
	setGatewayEnv(t, srv.URL)

	out, err := execute(tokenCmd())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !strings.Contains(out, "abcd********mnop") || strings.Contains(out, "abcdefghijklmnop") {
		t.Fatalf("token must be masked: %q", out)
	}

	t.Setenv("MPESA_CONSUMER_SECRET", "wrong")
	if _, err := execute(tokenCmd()); err == nil || !strings.Contains(err.Error(), "400.008.01") {
		t.Fatalf("expected gateway error details, got %v", err)
	}
}

func TestPushCmd(t *testing.T) {
	srv := fakeDaraja(t)
	setGatewayEnv(t, srv.URL)

	out, err := execute(pushCmd(), "--phone", "0712345678", "--amount", "1", "--reference", "TEST-1")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(out, "accepted:            true") || !strings.Contains(out, "ws_CO_1") {
		t.Fatalf("output = %q", out)
	}

	if _, err := execute(pushCmd(), "--phone", "12345"); err == nil {
		t.Fatalf("expected invalid phone error")
	}
}

func TestPushCmd_AbortsOnMissingCredentials(t *testing.T) {
	srv := fakeDaraja(t)
	setGatewayEnv(t, srv.URL)
	t.Setenv("MPESA_PASSKEY", "")

	_, err := execute(pushCmd(), "--phone", "0712345678")
	var ce exitCoder
	if !errors.As(err, &ce) || ce.ExitCode() != 2 || !strings.Contains(err.Error(), "MPESA_PASSKEY") {
		t.Fatalf("expected configuration exit, got %v", err)
	}
}

func TestQueryCmd(t *testing.T) {
	srv := fakeDaraja(t)
	setGatewayEnv(t, srv.URL)

	out, err := execute(queryCmd(), "ws_CO_1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "1032") || !strings.Contains(out, "status: cancelled") {
		t.Fatalf("output = %q", out)
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{"": "", "short": "*****", "abcdefghij": "abcd**ghij"}
	for in, want := range cases {
		if got := mask(in); got != want {
			t.Fatalf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}
