package garden

import "testing"

func TestAspectValidate(t *testing.T) {
	t.Parallel()

	for _, aspect := range Aspects() {
		if err := aspect.Validate(); err != nil {
			t.Fatalf("unexpected error for %s: %v", aspect, err)
		}
	}
	if err := Aspect("mood").Validate(); err == nil {
		t.Fatal("expected error for unknown aspect")
	}
	if err := Aspect("").Validate(); err == nil {
		t.Fatal("expected error for empty aspect")
	}
}

func TestFragmentDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   FragmentDraft
		wantErr bool
	}{
		{
			name: "valid draft",
			draft: FragmentDraft{
				Aspect:     AspectSelfReference,
				Content:    "prefers explicit error paths",
				Confidence: 0.8,
			},
		},
		{
			name: "unknown aspect",
			draft: FragmentDraft{
				Aspect:     "mood",
				Content:    "prefers explicit error paths",
				Confidence: 0.8,
			},
			wantErr: true,
		},
		{
			name: "blank content",
			draft: FragmentDraft{
				Aspect:     AspectSelfReference,
				Content:    "   ",
				Confidence: 0.8,
			},
			wantErr: true,
		},
		{
			name: "confidence above one",
			draft: FragmentDraft{
				Aspect:     AspectSelfReference,
				Content:    "prefers explicit error paths",
				Confidence: 1.2,
			},
			wantErr: true,
		},
		{
			name: "negative confidence",
			draft: FragmentDraft{
				Aspect:     AspectSelfReference,
				Content:    "prefers explicit error paths",
				Confidence: -0.1,
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.draft.Validate()
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAmendmentValidate(t *testing.T) {
	confidence := 0.9
	outOfRange := 1.5

	tests := []struct {
		name      string
		amendment Amendment
		wantErr   bool
	}{
		{
			name:      "confidence change",
			amendment: Amendment{FragmentID: "f1", Confidence: &confidence},
		},
		{
			name:      "keyword change",
			amendment: Amendment{FragmentID: "f1", Keywords: []string{"errors"}},
		},
		{
			name:      "missing fragment id",
			amendment: Amendment{Confidence: &confidence},
			wantErr:   true,
		},
		{
			name:      "no amendable field",
			amendment: Amendment{FragmentID: "f1", Note: "why though"},
			wantErr:   true,
		},
		{
			name:      "confidence out of range",
			amendment: Amendment{FragmentID: "f1", Confidence: &outOfRange},
			wantErr:   true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.amendment.Validate()
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEdgeDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   EdgeDraft
		wantErr bool
	}{
		{
			name:  "valid draft",
			draft: EdgeDraft{FromFragmentID: "f1", ToFragmentID: "f2", Kind: KindElaboration},
		},
		{
			name:    "missing from",
			draft:   EdgeDraft{ToFragmentID: "f2", Kind: KindElaboration},
			wantErr: true,
		},
		{
			name:    "missing to",
			draft:   EdgeDraft{FromFragmentID: "f1", Kind: KindElaboration},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			draft:   EdgeDraft{FromFragmentID: "f1", ToFragmentID: "f2", Kind: "mutation"},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.draft.Validate()
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
