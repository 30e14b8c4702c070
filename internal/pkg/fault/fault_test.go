package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeAndKindExtraction(t *testing.T) {
	t.Parallel()
	err := New(KindAntiCheat, CodeRateLimited, "slow down")
	if CodeOf(err) != CodeRateLimited {
		t.Fatalf("expected %s, got %s", CodeRateLimited, CodeOf(err))
	}
	if KindOf(err) != KindAntiCheat {
		t.Fatalf("unexpected kind %d", KindOf(err))
	}
	if !IsCode(err, CodeRateLimited) {
		t.Fatal("IsCode should match")
	}
}

func TestWrappedErrorsSurviveFmtWrapping(t *testing.T) {
	t.Parallel()
	inner := New(KindValidation, CodeTokenExpired, "token has expired")
	outer := fmt.Errorf("scan failed: %w", inner)
	if CodeOf(outer) != CodeTokenExpired {
		t.Fatalf("expected code through wrapping, got %s", CodeOf(outer))
	}
}

func TestInternalPreservesCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := Internal(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
	if KindOf(err) != KindInternal {
		t.Fatal("expected internal kind")
	}
}

func TestUnclassifiedErrorsDefaultToInternal(t *testing.T) {
	t.Parallel()
	err := errors.New("plain")
	if CodeOf(err) != CodeInternal {
		t.Fatalf("expected %s, got %s", CodeInternal, CodeOf(err))
	}
	if KindOf(err) != KindInternal {
		t.Fatal("expected internal kind")
	}
}
