package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
)

// --- Factory Tests ---

func TestFactoryRequiresBrokers(t *testing.T) {
	_, err := NewFactory()(map[string]string{"topic": "codes"}, nil)
	if err == nil {
		t.Fatal("expected error when brokers is missing")
	}
}

func TestFactoryRequiresTopic(t *testing.T) {
	_, err := NewFactory()(map[string]string{"brokers": "localhost:9092"}, nil)
	if err == nil {
		t.Fatal("expected error when topic is missing")
	}
}

func TestFactoryMinimalParams(t *testing.T) {
	n, err := NewFactory()(map[string]string{
		"brokers": "localhost:9092",
		"topic":   "codes",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kn := n.(*Notifier)
	if kn.cfg.TLS {
		t.Error("TLS should be false by default")
	}
	if kn.cfg.SASL != nil {
		t.Error("SASL should be nil by default")
	}
	if kn.cfg.Format != "json" {
		t.Errorf("format: got %q, want json", kn.cfg.Format)
	}
	if kn.client != nil {
		t.Error("client should not be created before first Notify")
	}
	if err := kn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFactoryMultipleBrokers(t *testing.T) {
	n, err := NewFactory()(map[string]string{
		"brokers": "broker1:9092, broker2:9092 ,, broker3:9092",
		"topic":   "codes",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"broker1:9092", "broker2:9092", "broker3:9092"}
	got := n.(*Notifier).cfg.Brokers
	if len(got) != len(expected) {
		t.Fatalf("expected %d brokers, got %v", len(expected), got)
	}
	for i, b := range got {
		if b != expected[i] {
			t.Errorf("broker %d: expected %q, got %q", i, expected[i], b)
		}
	}
}

func TestFactorySASL(t *testing.T) {
	n, err := NewFactory()(map[string]string{
		"brokers":        "localhost:9092",
		"topic":          "codes",
		"tls":            "true",
		"sasl_mechanism": "SCRAM-SHA-512",
		"sasl_user":      "user",
		"sasl_password":  "pass",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kn := n.(*Notifier)
	if !kn.cfg.TLS {
		t.Error("expected TLS")
	}
	if kn.cfg.SASL == nil || kn.cfg.SASL.Mechanism != "scram-sha-512" {
		t.Fatalf("SASL: %+v", kn.cfg.SASL)
	}
	if _, err := buildSASLMechanism(kn.cfg.SASL); err != nil {
		t.Errorf("buildSASLMechanism: %v", err)
	}
}

func TestFactoryInvalidSASL(t *testing.T) {
	_, err := NewFactory()(map[string]string{
		"brokers":        "localhost:9092",
		"topic":          "codes",
		"sasl_mechanism": "gssapi",
	}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported SASL mechanism")
	}
}

func TestRecord(t *testing.T) {
	r := codes.Record{Code: "STARRAILGIFT", Rewards: []string{"50 Stellar Jade"}, Source: "Prydwen", DiscoveredAt: time.Unix(1700000000, 0).UTC()}
	rec, err := record("codes", "json", r)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Topic != "codes" || string(rec.Key) != "STARRAILGIFT" {
		t.Errorf("topic/key: %q %q", rec.Topic, rec.Key)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Value, &body); err != nil {
		t.Fatalf("value: %v", err)
	}
	if body["source"] != "Prydwen" || body["claim_url"] != "https://hsr.hoyoverse.com/gift?code=STARRAILGIFT" {
		t.Errorf("value: %v", body)
	}
	if len(rec.Headers) != 2 || string(rec.Headers[0].Value) != "Prydwen" {
		t.Errorf("headers: %+v", rec.Headers)
	}
}

func TestFactoryInvalidFormat(t *testing.T) {
	_, err := NewFactory()(map[string]string{
		"brokers": "localhost:9092",
		"topic":   "codes",
		"format":  "avro",
	}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRecordMsgpack(t *testing.T) {
	r := codes.Record{Code: "HSR2024", Rewards: []string{"60 Stellar Jade"}, Source: "Eurogamer", DiscoveredAt: time.Unix(1700000000, 0).UTC()}
	rec, err := record("codes", "msgpack", r)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	var got notify.Payload
	if err := msgpack.Unmarshal(rec.Value, &got); err != nil {
		t.Fatalf("value: %v", err)
	}
	if got.Code != "HSR2024" || got.Source != "Eurogamer" || len(got.Rewards) != 1 {
		t.Errorf("payload: %+v", got)
	}
	if !got.DiscoveredAt.Equal(r.DiscoveredAt) {
		t.Errorf("discovered_at: got %s", got.DiscoveredAt)
	}
	if string(rec.Headers[1].Value) != "application/msgpack" {
		t.Errorf("content-type: %q", rec.Headers[1].Value)
	}
}
