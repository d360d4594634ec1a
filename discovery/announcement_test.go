package discovery

import (
	"encoding/json"
	"testing"
)

func TestAnnouncementWireFieldNames(t *testing.T) {
	payload := mustAnnouncement(t, "Alice Laptop", 5005, "instance-1")

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"app", "device_name", "port", "instance_id"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing wire field %q in %s", key, payload)
		}
	}
	if fields["app"] != AppTag {
		t.Fatalf("unexpected app tag: %v", fields["app"])
	}
}

func TestClassifySelfEchoRegardlessOfNameAndPort(t *testing.T) {
	cases := []struct {
		name string
		port uint16
	}{
		{name: "", port: 0},
		{name: "self", port: 5005},
		{name: "another name", port: 65535},
	}
	for _, tc := range cases {
		_, verdict := Classify(mustAnnouncement(t, tc.name, tc.port, "self-id"), "self-id")
		if verdict != VerdictSelfEcho {
			t.Fatalf("expected self echo for %q:%d, got %s", tc.name, tc.port, verdict)
		}
	}
}

func TestClassifyForeignApp(t *testing.T) {
	payload := []byte(`{"app":"otherapp","device_name":"x","port":5005,"instance_id":"peer"}`)
	if _, verdict := Classify(payload, "self-id"); verdict != VerdictForeignApp {
		t.Fatalf("expected foreign app verdict, got %s", verdict)
	}
}

func TestClassifyAcceptsPeerAnnouncement(t *testing.T) {
	msg, verdict := Classify(mustAnnouncement(t, "Bob Phone", 5005, "peer-id"), "self-id")
	if verdict != VerdictAccepted {
		t.Fatalf("expected accepted verdict, got %s", verdict)
	}
	if msg.DeviceName != "Bob Phone" || msg.Port != 5005 || msg.InstanceID != "peer-id" {
		t.Fatalf("unexpected decoded announcement: %+v", msg)
	}
}

func TestClassifyMalformedPayloads(t *testing.T) {
	cases := map[string][]byte{
		"not json":           []byte("hello"),
		"empty":              {},
		"missing app":        []byte(`{"device_name":"x","port":1,"instance_id":"p"}`),
		"missing name":       []byte(`{"app":"vdrop","port":1,"instance_id":"p"}`),
		"missing port":       []byte(`{"app":"vdrop","device_name":"x","instance_id":"p"}`),
		"missing instance":   []byte(`{"app":"vdrop","device_name":"x","port":1}`),
		"port out of range":  []byte(`{"app":"vdrop","device_name":"x","port":70000,"instance_id":"p"}`),
		"negative port":      []byte(`{"app":"vdrop","device_name":"x","port":-1,"instance_id":"p"}`),
		"port as string":     []byte(`{"app":"vdrop","device_name":"x","port":"5005","instance_id":"p"}`),
		"invalid utf8":       append([]byte(`{"app":"vdrop","device_name":"`), 0xff, '"', '}'),
		"truncated document": []byte(`{"app":"vdrop","device_name":"x",`),
	}
	for name, payload := range cases {
		if _, verdict := Classify(payload, "self-id"); verdict != VerdictMalformed {
			t.Fatalf("%s: expected malformed verdict, got %s", name, verdict)
		}
	}
}

func TestVerdictStringsAreStableMetricTags(t *testing.T) {
	want := map[Verdict]string{
		VerdictAccepted:   "accepted",
		VerdictMalformed:  "malformed",
		VerdictForeignApp: "foreign_app",
		VerdictSelfEcho:   "self_echo",
		VerdictNoSource:   "no_source",
	}
	for verdict, expected := range want {
		if verdict.String() != expected {
			t.Fatalf("expected %q, got %q", expected, verdict.String())
		}
	}
}
