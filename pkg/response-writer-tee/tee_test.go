package tee

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseSaverTees(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseSaver(rr)
	rw.Header().Set("Content-Type", "text/test")
	rw.WriteHeader(http.StatusAccepted)
	fmt.Fprint(rw, "Hello world")

	if rr.Code != http.StatusAccepted || rr.Body.String() != "Hello world" {
		t.Fatalf("Underlying writer got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "text/test" {
		t.Fatalf("Header is %v", rr.Header())
	}
	if rw.StatusCode() != http.StatusAccepted {
		t.Fatalf("Status code is %d", rw.StatusCode())
	}
}

func TestHandlerTransport(t *testing.T) {
	var handleCount int
	transport := HandlerTransport{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Header().Add("X-Path", r.URL.Path)
		w.Write([]byte("Hello " + r.Method))
	})}
	req, _ := http.NewRequest("POST", "https://site.example/api/contact", nil)

	res, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "Hello POST" {
		t.Fatalf("Body is %s", body)
	}
	if res.Header.Get("X-Path") != "/api/contact" || res.StatusCode != http.StatusOK {
		t.Fatalf("Response is %d %v", res.StatusCode, res.Header)
	}
	if handleCount != 1 {
		t.Fatalf("Handler called %d times", handleCount)
	}
}
