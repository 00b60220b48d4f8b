package syncengine

import (
	"testing"

	"github.com/ondisk/gitddb/internal/types"
)

func TestDocumentsEqualByteFastPath(t *testing.T) {
	raw := []byte(`{"_id":"x","title":"hi"}`)
	if !documentsEqual(raw, raw) {
		t.Fatalf("expected identical bytes to be equal")
	}
}

func TestDocumentsEqualStructuralHash(t *testing.T) {
	a := []byte(`{"_id":"x","title":"hi"}`)
	b := []byte(`{"title":"hi","_id":"x"}`)
	if !documentsEqual(a, b) {
		t.Fatalf("expected key-order-differing but structurally identical documents to be equal")
	}
}

func TestDocumentsEqualDetectsDivergence(t *testing.T) {
	a := []byte(`{"_id":"x","title":"hi"}`)
	b := []byte(`{"_id":"x","title":"bye"}`)
	if documentsEqual(a, b) {
		t.Fatalf("expected differing documents to not be equal")
	}
}

func TestUnionStringsDeduplicates(t *testing.T) {
	got := unionStrings([]string{"a", "b"}, []string{"b", "c"})
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != len(want) {
		t.Fatalf("expected 3 deduplicated entries, got %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected entry %q", s)
		}
	}
}

func TestResolveByStrategyOurs(t *testing.T) {
	s := &Session{Opts: types.SyncOptions{ConflictResolutionStrategy: types.ResolveOurs}}
	outcome := s.resolveByStrategy("c/x.json", []byte(`{"_id":"c/x"}`), []byte(`{"_id":"c/x","title":"theirs"}`), types.LabelUpdate)
	if !outcome.conflict {
		t.Fatalf("expected outcome to be flagged as a conflict")
	}
	if outcome.strategy != types.ResolveOurs {
		t.Fatalf("expected ours strategy, got %v", outcome.strategy)
	}
	if outcome.changed {
		t.Fatalf("expected ours to already be correct (no write needed)")
	}
}

func TestResolveByStrategyTheirs(t *testing.T) {
	s := &Session{Opts: types.SyncOptions{ConflictResolutionStrategy: types.ResolveTheirs}}
	theirs := []byte(`{"_id":"c/x","title":"theirs"}`)
	outcome := s.resolveByStrategy("c/x.json", []byte(`{"_id":"c/x"}`), theirs, types.LabelUpdate)
	if !outcome.conflict || outcome.strategy != types.ResolveTheirs {
		t.Fatalf("expected theirs strategy conflict, got %+v", outcome)
	}
	if !outcome.changed || string(outcome.content) != string(theirs) {
		t.Fatalf("expected theirs content to be applied, got %+v", outcome)
	}
}

func TestResolveByStrategyTheirsRemoval(t *testing.T) {
	s := &Session{Opts: types.SyncOptions{ConflictResolutionStrategy: types.ResolveTheirs}}
	outcome := s.resolveByStrategy("c/x.json", []byte(`{"_id":"c/x"}`), nil, types.LabelDelete)
	if !outcome.removed || !outcome.changed {
		t.Fatalf("expected theirs-removed outcome to propagate the removal, got %+v", outcome)
	}
}

func TestResolveByStrategyViaResolverFunction(t *testing.T) {
	s := &Session{Opts: types.SyncOptions{
		ConflictResolutionStrategy: types.ResolveFunction,
		Resolver: func(shortID string, operation types.Label) types.ConflictResolution {
			return types.ResolveTheirs
		},
	}}
	outcome := s.resolveByStrategy("c/x.json", []byte(`{"_id":"c/x"}`), []byte(`{"_id":"c/x","title":"theirs"}`), types.LabelUpdate)
	if outcome.strategy != types.ResolveTheirs {
		t.Fatalf("expected the resolver function's choice to apply, got %v", outcome.strategy)
	}
}
