//go:build linux

package lock

import (
	"testing"

	"github.com/google/uuid"
)

func TestAcquireRelease(t *testing.T) {
	name := "kyaraben-test-" + uuid.NewString()

	l, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := Acquire(name); err == nil {
		t.Fatal("second Acquire should fail while lock is held")
	}

	l.Release()

	l2, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	l2.Release()
}
