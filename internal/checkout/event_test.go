package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testSecret = "whsec_test"

// signPayload produces a `t=...,v1=...` header the way the provider does.
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParse_Valid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	now := time.Unix(1700000000, 0)

	ev, err := VerifyAndParse(payload, signPayload(payload, testSecret, now), testSecret, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != EventSessionCompleted {
		t.Errorf("expected session completed, got %s", ev.Type)
	}
	if ev.Data.Object.ID != "cs_1" {
		t.Errorf("expected session cs_1, got %s", ev.Data.Object.ID)
	}
}

func TestVerifyAndParse_WrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"x"}`)
	now := time.Unix(1700000000, 0)

	_, err := VerifyAndParse(payload, signPayload(payload, "other-secret", now), testSecret, now)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyAndParse_TamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"x"}`)
	now := time.Unix(1700000000, 0)
	sig := signPayload(payload, testSecret, now)

	tampered := []byte(`{"id":"evt_1","type":"y"}`)
	if _, err := VerifyAndParse(tampered, sig, testSecret, now); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for tampered body, got %v", err)
	}
}

func TestVerifyAndParse_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"x"}`)
	signed := time.Unix(1700000000, 0)

	// Signed 6 minutes ago: outside the 5 minute tolerance.
	_, err := VerifyAndParse(payload, signPayload(payload, testSecret, signed), testSecret, signed.Add(6*time.Minute))
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp, got %v", err)
	}

	// Future timestamps are rejected symmetrically.
	_, err = VerifyAndParse(payload, signPayload(payload, testSecret, signed), testSecret, signed.Add(-6*time.Minute))
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp for future ts, got %v", err)
	}
}

func TestVerifyAndParse_MalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Unix(1700000000, 0)

	for _, header := range []string{"", "t=123", "v1=abc", "garbage"} {
		if _, err := VerifyAndParse(payload, header, testSecret, now); !errors.Is(err, ErrBadSignature) {
			t.Errorf("header %q: expected ErrBadSignature, got %v", header, err)
		}
	}
}

// --- Metadata parsing ---

func validMetadata() map[string]string {
	return map[string]string{
		"items":    `[{"listing_id":"28044913572901437","title":"Kind of Blue","price":"24.99","quantity":1,"condition":"NM"}]`,
		"customer": `{"email":"buyer@example.com","user_id":"user1"}`,
	}
}

func TestParseMetadata_Valid(t *testing.T) {
	md, err := ParseMetadata(validMetadata())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(md.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(md.Items))
	}
	if md.Items[0].ListingID.String() != "28044913572901437" {
		t.Errorf("listing ID lost precision: %s", md.Items[0].ListingID)
	}
	if md.Customer.Email != "buyer@example.com" {
		t.Errorf("unexpected customer: %+v", md.Customer)
	}
}

func TestParseMetadata_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing items", func(m map[string]string) { delete(m, "items") }},
		{"items not json", func(m map[string]string) { m["items"] = "not json" }},
		{"empty item list", func(m map[string]string) { m["items"] = "[]" }},
		{"zero quantity", func(m map[string]string) {
			m["items"] = `[{"listing_id":"1","title":"x","price":"1.00","quantity":0}]`
		}},
		{"missing title", func(m map[string]string) {
			m["items"] = `[{"listing_id":"1","price":"1.00","quantity":1}]`
		}},
		{"missing listing id", func(m map[string]string) {
			m["items"] = `[{"title":"x","price":"1.00","quantity":1}]`
		}},
		{"bad email", func(m map[string]string) {
			m["customer"] = `{"email":"not-an-email"}`
		}},
		{"customer not json", func(m map[string]string) { m["customer"] = "{" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMetadata()
			tt.mutate(m)
			_, err := ParseMetadata(m)
			if err == nil {
				t.Fatal("expected rejection")
			}
			var me *MetadataError
			if !errors.As(err, &me) {
				t.Errorf("expected *MetadataError, got %T (%v)", err, err)
			}
		})
	}
}
