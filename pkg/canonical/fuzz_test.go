package canonical

import (
	"bytes"
	"encoding/json"
	"testing"
)

// FuzzBytesRoundTrip feeds arbitrary JSON documents through the canonical
// encoder and checks that the output is valid JSON and a fixed point: a
// second canonicalization of the output must be byte-identical.
func FuzzBytesRoundTrip(f *testing.F) {
	f.Add([]byte(`{"b":1,"a":[null,true,"x"]}`))
	f.Add([]byte(`[1,2.5,"three"]`))
	f.Add([]byte(`"plain"`))
	f.Add([]byte(`{"nested":{"z":{"y":0}}}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		if !json.Valid(data) {
			t.Skip()
		}
		first, err := Bytes(json.RawMessage(data))
		if err != nil {
			t.Skip()
		}
		if !json.Valid(first) {
			t.Fatalf("canonical output is not valid JSON: %s", first)
		}
		second, err := Bytes(json.RawMessage(first))
		if err != nil {
			t.Fatalf("re-canonicalization failed: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("canonicalization is not a fixed point:\n first=%s\nsecond=%s", first, second)
		}
	})
}
