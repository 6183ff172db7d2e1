package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestWeComSend(t *testing.T) {
	var got wecomMessage
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		gotKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	sink := NewWeCom(srv.URL, "group-key-1")
	err := sink.Send(context.Background(), "replication lag 420s", []string{"13800000001"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotKey != "group-key-1" {
		t.Errorf("key = %q", gotKey)
	}
	if got.MsgType != "text" {
		t.Errorf("msgtype = %q", got.MsgType)
	}
	if got.Text.Content != "replication lag 420s" {
		t.Errorf("content = %q", got.Text.Content)
	}
	if !reflect.DeepEqual(got.Text.Mentions, []string{"13800000001"}) {
		t.Errorf("mentions = %v", got.Text.Mentions)
	}
}

func TestWeComSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook key"}`))
	}))
	defer srv.Close()

	err := NewWeCom(srv.URL, "bad").Send(context.Background(), "x", nil)
	if err == nil {
		t.Fatal("Send succeeded on rejected message")
	}
}

func TestWeComSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewWeCom(srv.URL, "k").Send(context.Background(), "x", nil); err == nil {
		t.Fatal("Send succeeded on 500")
	}
}

func TestNewFallsBackToLogSink(t *testing.T) {
	if _, ok := New("").(LogSink); !ok {
		t.Error("empty group key did not select the log sink")
	}
	if _, ok := New("k").(*WeCom); !ok {
		t.Error("non-empty group key did not select the webhook sink")
	}
}
