package core_test

import (
	"testing"

	"railledger/internal/core"
)

func TestStateHasher_ChainsHashes(t *testing.T) {
	h := core.NewStateHasher()
	genesis := h.GetPrevHash()

	first := h.ComputeHash(1, []byte("digest-1"))
	if first == genesis {
		t.Error("first hash should differ from genesis")
	}
	if h.GetPrevHash() != first {
		t.Error("prev_hash should advance to the hash just computed")
	}

	second := h.ComputeHash(2, []byte("digest-2"))
	if second == first {
		t.Error("second hash should differ from first")
	}
}

func TestStateHasher_DeterministicForSameInputs(t *testing.T) {
	h1 := core.NewStateHasher()
	h2 := core.NewStateHasher()

	a := h1.ComputeHash(5, []byte("same-digest"))
	b := h2.ComputeHash(5, []byte("same-digest"))
	if a != b {
		t.Error("identical (sequence, digest) pairs from genesis must hash identically")
	}
}

func TestStateHasher_RestorePrevHashContinuesChain(t *testing.T) {
	h := core.NewStateHasher()
	tip := h.ComputeHash(1, []byte("digest-1"))

	restored := core.NewStateHasher()
	restored.RestorePrevHash(tip)

	if restored.GetPrevHash() != tip {
		t.Fatal("restored hasher should report the restored tip")
	}

	// Continuing from the restored tip must match continuing the original.
	want := h.ComputeHash(2, []byte("digest-2"))
	got := restored.ComputeHash(2, []byte("digest-2"))
	if got != want {
		t.Error("restored hasher should chain identically to the original")
	}
}
