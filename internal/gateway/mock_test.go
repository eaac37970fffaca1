package gateway_test

import (
	"context"
	"math"
	"testing"

	"callsight/internal/gateway"
	"callsight/internal/record"
	"callsight/internal/validate"
)

// The mock must always emit schema-valid output, otherwise offline runs
// degrade every section and demos lie about pipeline health.
func TestMockInferOutputValidates(t *testing.T) {
	m := &gateway.Mock{}
	ctx := context.Background()

	for _, kind := range record.Kinds() {
		raw, err := m.Infer(ctx, kind, "transcript about a billing complaint")
		if err != nil {
			t.Fatalf("infer %s: %v", kind, err)
		}
		if _, fail := validate.Validate(kind, raw); fail != nil {
			t.Fatalf("mock output for %s rejected: %v", kind, fail)
		}
	}
}

func TestMockInferFailSubstring(t *testing.T) {
	m := &gateway.Mock{FailSubstring: "poison"}
	ctx := context.Background()

	if _, err := m.Infer(ctx, record.KindSentiment, "clean prompt"); err != nil {
		t.Fatalf("clean prompt failed: %v", err)
	}

	_, err := m.Infer(ctx, record.KindSentiment, "prompt with poison inside")
	te, ok := gateway.AsTransport(err)
	if !ok {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Status != 503 || !te.Retryable() {
		t.Fatalf("unexpected failure shape: %+v", te)
	}
}

func TestMockEmbedNormalized(t *testing.T) {
	m := &gateway.Mock{}
	ctx := context.Background()

	vec, err := m.Embed(ctx, "refund for a duplicate billing charge")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != gateway.MockDim {
		t.Fatalf("dimension = %d, want %d", len(vec), gateway.MockDim)
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("vector not normalized: norm^2 = %v", norm)
	}

	again, err := m.Embed(ctx, "refund for a duplicate billing charge")
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
}
