package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestStoredResponseRoundTrip(t *testing.T) {
	header := http.Header{}
	header.Add("Test", "-ing")
	res := NewResponse(nil, http.StatusCreated, header, []byte("created"))

	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
	if res2.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Header)
	}
	body, _ := io.ReadAll(res2.Body)
	if string(body) != "created" {
		t.Fatalf("Body: %s", body)
	}
}

func TestChunkedResponseIsStoredWithLength(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bts), "Content-Length: 5") {
		t.Fatalf("Stored bytes: %q", bts)
	}
}
