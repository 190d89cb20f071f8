package app

import (
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestNewHTTPClient_Config(t *testing.T) {
	c := newHTTPClient(true, 0)
	if c.Timeout != 60*time.Second {
		t.Fatalf("timeout=%s, want 60s default", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected http.Transport")
	}
	if tr.MaxIdleConnsPerHost < 2 {
		t.Fatalf("expected pooled connections per host, got %d", tr.MaxIdleConnsPerHost)
	}
	if reflect.ValueOf(http.DefaultTransport).Pointer() == reflect.ValueOf(tr).Pointer() {
		t.Fatalf("transport should not be default")
	}
	if c := newHTTPClient(true, 3*time.Second); c.Timeout != 3*time.Second {
		t.Fatalf("timeout=%s, want 3s", c.Timeout)
	}
}
