package main

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"xwatch/internal/config"
	"xwatch/internal/store/sqlitestore"
)

func TestBuildFetcherStrategyOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Fetch.ProxyURL = "http://mirror.invalid"

	f, closer := buildFetcher(cfg, nil)
	if closer == nil {
		t.Fatal("expected a browser session to close")
	}
	if got, want := f.Strategies(), []string{"browser", "proxy", "synthetic"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("strategies = %v, want %v", got, want)
	}

	cfg.Fetch.UseProxy = true
	cfg.Fetch.SyntheticFallback = false
	f, closer = buildFetcher(cfg, nil)
	if closer != nil {
		t.Fatal("proxy mode should not start a browser")
	}
	if got, want := f.Strategies(), []string{"proxy"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("strategies = %v, want %v", got, want)
	}
}

func TestOpenStoreDefaultsToSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "xwatch.db")
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*sqlitestore.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", st)
	}
}

func TestBuildNotifierFallsBackToWebhook(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.Webhook.URL = "http://hooks.invalid/x"
	n, err := buildNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if n == nil {
		t.Fatal("nil notifier")
	}
}
