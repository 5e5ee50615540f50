package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBucketer_InvalidTick(t *testing.T) {
	if _, err := NewBucketer(decimal.Zero); err == nil {
		t.Error("Zero tick size should be rejected")
	}
	if _, err := NewBucketer(d("-0.1")); err == nil {
		t.Error("Negative tick size should be rejected")
	}
}

func TestBucketer_FloorGrouping(t *testing.T) {
	b, err := NewBucketer(d("0.1"))
	if err != nil {
		t.Fatalf("NewBucketer failed: %v", err)
	}

	tests := []struct {
		price  string
		bucket int64
	}{
		{"100.00", 1000},
		{"100.05", 1000},
		{"100.09", 1000},
		{"100.10", 1001},
		{"99.99", 999},
		{"0.04", 0},
	}
	for _, tt := range tests {
		if got := b.Bucket(d(tt.price)); got != tt.bucket {
			t.Errorf("Bucket(%s) = %d, want %d", tt.price, got, tt.bucket)
		}
	}
}

func TestBucketer_RepresentativePrice(t *testing.T) {
	b, _ := NewBucketer(d("0.5"))

	bucket := b.Bucket(d("123.7"))
	price := b.Price(bucket)
	if !price.Equal(d("123.5")) {
		t.Errorf("Representative price = %s, want 123.5", price)
	}

	// Same bucket in, same bucket out: the representative price must map
	// back onto its own bucket.
	if again := b.Bucket(price); again != bucket {
		t.Errorf("Bucket(Price(%d)) = %d, want %d", bucket, again, bucket)
	}
}

func TestBucketer_Deterministic(t *testing.T) {
	b, _ := NewBucketer(d("0.01"))

	prices := []string{"42.424", "0.001", "99999.99", "1.005"}
	for _, p := range prices {
		first := b.Bucket(d(p))
		for i := 0; i < 5; i++ {
			if got := b.Bucket(d(p)); got != first {
				t.Fatalf("Bucket(%s) unstable: %d then %d", p, first, got)
			}
		}
	}
}

func mustBucketer(t *testing.T, tick string) Bucketer {
	t.Helper()
	b, err := NewBucketer(d(tick))
	if err != nil {
		t.Fatalf("NewBucketer(%s) failed: %v", tick, err)
	}
	return b
}

func lvl(price, qty string) domain.BookLevel {
	return domain.BookLevel{Price: d(price), Qty: d(qty)}
}
